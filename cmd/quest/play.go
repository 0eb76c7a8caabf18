package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/questline/pkg/bridge"
	"github.com/ormasoftchile/questline/pkg/config"
	"github.com/ormasoftchile/questline/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/questline/pkg/executor"
	"github.com/ormasoftchile/questline/pkg/overlay"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
	"github.com/ormasoftchile/questline/pkg/session"
	"github.com/ormasoftchile/questline/pkg/trace"
)

// Overlay front ends.
const (
	overlayConsole  = "console"
	overlayScripted = "scripted"
	overlayBridge   = "bridge"
)

// playFlags are shared by play and steps.
type playFlags struct {
	config    string
	state     string
	trace     string
	overlay   string
	scenario  string
	listen    string
	mediaBase string
	object    string
	vars      []string
	record    string
	fresh     bool
	noMDNS    bool
}

func (f *playFlags) register(cmd *cobra.Command, defaultOverlay string) {
	cmd.Flags().StringVar(&f.config, "config", "", "Path to a config YAML file")
	cmd.Flags().StringVar(&f.state, "state", "", "Persist runtime state to this JSON file")
	cmd.Flags().StringVar(&f.trace, "trace", "", "Write the JSONL trace to this file")
	cmd.Flags().StringVar(&f.overlay, "overlay", defaultOverlay, "Overlay front end: console, scripted or bridge")
	cmd.Flags().StringVar(&f.scenario, "scenario", "", "Scenario YAML for scripted overlays")
	cmd.Flags().StringVar(&f.listen, "listen", ":7777", "Listen address for bridge overlays")
	cmd.Flags().StringVar(&f.mediaBase, "media-base", "", "Base URL relative media references resolve against")
	cmd.Flags().StringVar(&f.object, "object", "", "Object to play (default: the quest's current object)")
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "Set a start-gate variable (key=value), repeatable")
	cmd.Flags().StringVar(&f.record, "record", "", "Record the player's session as a replayable scenario YAML")
	cmd.Flags().BoolVar(&f.fresh, "fresh", false, "Discard the state file before starting")
	cmd.Flags().BoolVar(&f.noMDNS, "no-mdns", false, "Do not advertise the bridge over mDNS")
}

// resolveConfig layers flags over the config file.
func (f *playFlags) resolveConfig() (config.Config, error) {
	cfg, err := loadConfig(f.config)
	if err != nil {
		return cfg, err
	}
	if f.state != "" {
		cfg.StatePath = f.state
	}
	if f.trace != "" {
		cfg.TracePath = f.trace
	}
	return cfg, nil
}

// parseVars turns key=value flags into typed gate variables.
func parseVars(raw []string) (map[string]any, error) {
	vars := make(map[string]any, len(raw))
	for _, v := range raw {
		k, val, ok := strings.Cut(v, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", v)
		}
		if b, err := strconv.ParseBool(val); err == nil {
			vars[k] = b
		} else if n, err := strconv.ParseFloat(val, 64); err == nil {
			vars[k] = n
		} else {
			vars[k] = val
		}
	}
	return vars, nil
}

// frontEnd is an assembled set of overlays plus its teardown.
type frontEnd struct {
	overlays session.Overlays
	scripted *overlay.Scripted
	recorder *recorder.Recorder
	close    func()
}

// saveRecording writes the recorded scenario when --record was given.
func (fe *frontEnd) saveRecording(w io.Writer, path string) error {
	if fe.recorder == nil {
		return nil
	}
	if err := fe.recorder.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(w, "  [record] scenario written to %s\n", path)
	return nil
}

// openFrontEnd builds the overlays named by f.overlay and installs the
// matching puzzle navigation on rt.
func openFrontEnd(ctx context.Context, w io.Writer, f *playFlags, q *schema.Quest, rt *runtime.Memory) (*frontEnd, error) {
	fe := &frontEnd{close: func() {}}
	solve := rt.SolvePuzzle
	navigate := func(nav runtime.Navigator) { rt.SetNavigator(nav) }
	if f.record != "" {
		fe.recorder = recorder.New()
		solve = fe.recorder.Solver(rt.SolvePuzzle)
		navigate = func(nav runtime.Navigator) { rt.SetNavigator(fe.recorder.Navigator(nav)) }
	}

	switch f.overlay {
	case overlayConsole:
		c, err := overlay.NewConsole()
		if err != nil {
			return nil, err
		}
		fe.overlays = session.Overlays{Host: c, Audio: c, Effects: c}
		fe.close = func() { c.Shutdown() }
		navigate(func(objectID, puzzleID string) {
			c.Printf("  [puzzle] %s is waiting on %s; solve it with `quest solve`\n", objectID, puzzleID)
		})

	case overlayScripted:
		var sc *overlay.Scenario
		if f.scenario != "" {
			var err error
			if sc, err = overlay.LoadScenario(f.scenario); err != nil {
				return nil, err
			}
		}
		s := overlay.NewScripted(sc)
		fe.overlays = session.Overlays{Host: s, Audio: s, Effects: s}
		fe.scripted = s
		navigate(s.PuzzleNavigator(ctx, solve))

	case overlayBridge:
		b, closeFn, err := openBridge(ctx, w, f, q, solve, navigate)
		if err != nil {
			return nil, err
		}
		fe.overlays = session.Overlays{Host: b, Audio: b, Effects: b}
		fe.close = closeFn

	default:
		return nil, fmt.Errorf("unknown overlay %q: use console, scripted or bridge", f.overlay)
	}

	if f.mediaBase != "" {
		r, err := overlay.NewURLResolver(f.mediaBase)
		if err != nil {
			fe.close()
			return nil, err
		}
		fe.overlays.Media = r
	}
	if fe.recorder != nil {
		fe.overlays.Host = fe.recorder.Host(fe.overlays.Host)
		fe.overlays.Audio = fe.recorder.Audio(fe.overlays.Audio)
	}
	return fe, nil
}

// openBridge serves the device endpoint, prints the pairing code and
// waits for a player to connect.
func openBridge(ctx context.Context, w io.Writer, f *playFlags, q *schema.Quest, solve func(string) error, navigate func(runtime.Navigator)) (*bridge.Bridge, func(), error) {
	b := bridge.New()
	b.OnPuzzleSolved = func(id string) {
		if err := solve(id); err != nil {
			fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		}
	}
	navigate(func(objectID, puzzleID string) {
		b.Notify(fmt.Sprintf("Solve puzzle %s to continue at %s", puzzleID, objectID))
	})

	ln, err := net.Listen("tcp", f.listen)
	if err != nil {
		return nil, nil, fmt.Errorf("bridge listen: %w", err)
	}
	serveCtx, stopServe := context.WithCancel(ctx)
	go func() {
		if err := b.Serve(serveCtx, ln); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	url := fmt.Sprintf("ws://%s/ws", advertisedHost(port))
	fmt.Fprintf(w, "  [bridge] waiting for a player on %s\n", url)
	if qr, err := bridge.PairingQR(url); err == nil {
		fmt.Fprintln(w, qr)
	}

	closeFn := stopServe
	if !f.noMDNS {
		if srv, err := bridge.Advertise(q.Name, port, url); err != nil {
			fmt.Fprintf(os.Stderr, "  [bridge] mDNS unavailable: %v\n", err)
		} else {
			closeFn = func() {
				srv.Shutdown()
				stopServe()
			}
		}
	}

	if err := b.WaitClient(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	fmt.Fprintln(w, "  [bridge] player connected")
	return b, closeFn, nil
}

// advertisedHost picks a LAN address a device can reach.
func advertisedHost(port int) string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if ok && !ipNet.IP.IsLoopback() && ipNet.IP.To4() != nil {
				return net.JoinHostPort(ipNet.IP.String(), strconv.Itoa(port))
			}
		}
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// openTrace opens the configured trace file, or returns a nil writer.
func openTrace(cfg config.Config) (*trace.Writer, error) {
	if cfg.TracePath == "" {
		return nil, nil
	}
	return trace.NewFileWriter(cfg.TracePath, uuid.NewString())
}

// --- play ---

var (
	playOpts  playFlags
	playReset bool
)

var playCmd = &cobra.Command{
	Use:   "play [quest.yaml]",
	Short: "Play a quest from its current object, or one object's timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlay,
}

func runPlay(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := playOpts.resolveConfig()
	if err != nil {
		return err
	}
	vars, err := parseVars(playOpts.vars)
	if err != nil {
		return err
	}
	if playOpts.fresh && cfg.StatePath != "" {
		if err := session.RemoveState(cfg.StatePath); err != nil {
			return err
		}
	}
	if _, err := loadQuest(cmd.ErrOrStderr(), args[0]); err != nil {
		return err
	}
	q, rt, err := session.Load(args[0], cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fe, err := openFrontEnd(ctx, out, &playOpts, q, rt)
	if err != nil {
		return err
	}
	defer fe.close()

	tw, err := openTrace(cfg)
	if err != nil {
		return err
	}
	defer tw.Close()

	s, err := session.New(q, rt, cfg, fe.overlays, tw)
	if err != nil {
		return err
	}
	for k, v := range vars {
		s.Gate.Set(k, v)
	}

	fmt.Fprintf(out, "▶ %s (%s overlays)\n", q.Name, playOpts.overlay)
	var results []*executor.RunResult
	var playErr error
	if playOpts.object != "" {
		var res *executor.RunResult
		res, playErr = s.Play(ctx, playOpts.object, executor.Options{Reset: playReset, Force: true})
		if res != nil {
			results = append(results, res)
		}
	} else {
		results, playErr = s.Autoplay(ctx)
	}
	for _, res := range results {
		printResult(out, res)
	}
	if err := s.Close(); err != nil && playErr == nil {
		playErr = err
	}
	if err := fe.saveRecording(out, playOpts.record); err != nil && playErr == nil {
		playErr = err
	}
	if fe.scripted != nil {
		for _, line := range fe.scripted.Log() {
			fmt.Fprintf(out, "    · %s\n", line)
		}
	}

	if rt.Snapshot().CurrentObjectID == "" {
		fmt.Fprintf(out, "✓ quest finished with %d points\n", rt.Points())
	}
	return playErr
}

func printResult(w io.Writer, res *executor.RunResult) {
	glyph := "✓"
	switch res.Status {
	case executor.StatusSuspended:
		glyph = "⏸"
	case executor.StatusStopped, executor.StatusCancelled:
		glyph = "■"
	case executor.StatusDenied, executor.StatusInvalid, executor.StatusBusy:
		glyph = "✗"
	case executor.StatusEmpty:
		glyph = "·"
	}
	line := fmt.Sprintf("  %s %-16s %-10s next=%d (%s)", glyph, res.ObjectID, res.Status, res.Progress.NextIndex, res.Duration.Round(time.Millisecond))
	if res.Progress.BlockedByPuzzleID != "" {
		line += " waiting on " + res.Progress.BlockedByPuzzleID
	}
	if res.Message != "" {
		line += ": " + res.Message
	}
	fmt.Fprintln(w, line)
}

func init() {
	playOpts.register(playCmd, overlayConsole)
	playCmd.Flags().BoolVar(&playReset, "reset", false, "Replay --object from its first item")
	rootCmd.AddCommand(playCmd)
}
