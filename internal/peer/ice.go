package peer

import (
	"videokyc-platform/internal/config"

	"github.com/pion/webrtc/v4"
)

// ICEServers turns deployment config into the relay list handed to every connection.
func ICEServers(cfg config.WebRTCConfig) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: cfg.STUNURLs})
	}
	if cfg.TURNURL != "" {
		out = append(out, webrtc.ICEServer{
			URLs:       []string{cfg.TURNURL},
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}
	return out
}
