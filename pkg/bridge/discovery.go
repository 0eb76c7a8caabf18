package bridge

import (
	"fmt"
	"strings"

	"github.com/hashicorp/mdns"
	qrcode "github.com/skip2/go-qrcode"
)

// ServiceType is the mDNS service type players browse for.
const ServiceType = "_questline._tcp"

// Advertise announces the bridge on the local network so a player device
// can find it without typing an address.
func Advertise(quest string, port int, url string) (*mdns.Server, error) {
	if port <= 0 {
		return nil, fmt.Errorf("invalid port for mDNS advertisement: %d", port)
	}
	name := strings.TrimSpace(quest)
	if name == "" {
		name = "questline"
	}
	txt := []string{
		fmt.Sprintf("quest=%s", name),
		fmt.Sprintf("url=%s", url),
	}
	service, err := mdns.NewMDNSService(name, ServiceType, "local", "", port, nil, txt)
	if err != nil {
		return nil, err
	}
	return mdns.NewServer(&mdns.Config{Zone: service})
}

// PairingQR renders url as a terminal QR code for the player to scan.
func PairingQR(url string) (string, error) {
	code, err := qrcode.New(url, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return code.ToString(false), nil
}
