package media

import (
	"strings"

	"rtclink/internal/core/domain"
	"rtclink/pkg/config"

	"github.com/pion/webrtc/v3"
)

// ICEServersFromConfig converts the configured default servers.
func ICEServersFromConfig(cfg *config.Config) []domain.ICEServer {
	servers := make([]domain.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		servers = append(servers, domain.ICEServer{
			URLs:       append([]string(nil), s.URLs...),
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}

// PeerConfiguration builds the peer connection configuration for a session.
// Session servers come first; defaults follow unless the session asks for
// its own TURN servers only. ForceTURN restricts candidates to relays and
// needs at least one turn: or turns: URL.
func PeerConfiguration(ice *domain.ICEConfig, defaults []domain.ICEServer) (webrtc.Configuration, error) {
	var servers []domain.ICEServer
	policy := webrtc.ICETransportPolicyAll
	if ice != nil {
		servers = append(servers, ice.Servers...)
		if ice.UseCustomTURNOnly && len(ice.Servers) == 0 {
			return webrtc.Configuration{}, domain.ErrInvalidParam.Withf("custom turn only without ice servers")
		}
		if !ice.UseCustomTURNOnly {
			servers = append(servers, defaults...)
		}
		if ice.ForceTURN {
			policy = webrtc.ICETransportPolicyRelay
		}
	} else {
		servers = append(servers, defaults...)
	}

	cfg := webrtc.Configuration{
		ICETransportPolicy: policy,
		SDPSemantics:       webrtc.SDPSemanticsUnifiedPlan,
	}
	relays := 0
	for _, s := range servers {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				relays++
			}
		}
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:           append([]string(nil), s.URLs...),
			Username:       s.Username,
			Credential:     s.Credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	if policy == webrtc.ICETransportPolicyRelay && relays == 0 {
		return webrtc.Configuration{}, domain.ErrInvalidParam.Withf("force turn without a turn server")
	}
	return cfg, nil
}
