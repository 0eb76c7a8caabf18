package main

import (
	"fmt"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/questline/pkg/session"
	"github.com/ormasoftchile/questline/pkg/steps"
	"github.com/ormasoftchile/questline/pkg/tui"
)

var panelOpts playFlags

var stepsCmd = &cobra.Command{
	Use:   "steps [quest.yaml]",
	Short: "Open the steps-mode panel for one object",
	Long:  "steps shows an object's timeline with its progress and lets the operator skip, open or restart items while overlays run on a scripted or remote player.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSteps,
}

func runSteps(cmd *cobra.Command, args []string) error {
	if panelOpts.overlay == overlayConsole {
		return fmt.Errorf("the steps panel owns the terminal; use --overlay scripted or bridge")
	}
	cfg, err := panelOpts.resolveConfig()
	if err != nil {
		return err
	}
	vars, err := parseVars(panelOpts.vars)
	if err != nil {
		return err
	}
	if panelOpts.fresh && cfg.StatePath != "" {
		if err := session.RemoveState(cfg.StatePath); err != nil {
			return err
		}
	}
	q, rt, err := session.Load(args[0], cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	fe, err := openFrontEnd(ctx, cmd.OutOrStdout(), &panelOpts, q, rt)
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

	objectID := panelOpts.object
	if objectID == "" {
		objectID = rt.Snapshot().CurrentObjectID
	}
	if objectID == "" && len(q.Objects) > 0 {
		objectID = q.Objects[0].ID
	}
	panel, err := steps.New(s.Exec, q, objectID)
	if err != nil {
		return err
	}

	changes, unsubscribe := rt.Subscribe()
	defer unsubscribe()
	go s.Watcher.Watch(ctx, changes, rt)

	model, err := tui.NewModel(ctx, panel, tui.Subscribe(s.Exec))
	if err != nil {
		return err
	}
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, runErr := p.Run()

	s.Exec.Cancel()
	if err := s.Close(); err != nil && runErr == nil {
		runErr = err
	}
	if err := fe.saveRecording(cmd.OutOrStdout(), panelOpts.record); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func init() {
	panelOpts.register(stepsCmd, overlayScripted)
	rootCmd.AddCommand(stepsCmd)
}
