package api

import (
	"net/http"

	"marketplace.mini/mkt/internal/discovery"
)

// PeerLister reports the marketplace nodes seen on the local network.
type PeerLister interface {
	GetPeers() []*discovery.Peer
}

// PeerInfo is one discovered node as the API reports it.
type PeerInfo struct {
	Instance string `json:"instance"`
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Mode     string `json:"mode"`
	Operator string `json:"operator"`
	URL      string `json:"url"`
}

// @Title: List Peers
// @Route: GET /api/peers
// @Description: Marketplace nodes found on the local network over mDNS; empty when discovery is disabled
// @Response: Array of {"instance", "hostname", "version", "mode", "operator", "url"}
func (s *Service) HandlePeers(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r, http.MethodGet) {
		return
	}
	out := []PeerInfo{}
	if s.opts.Peers != nil {
		for _, p := range s.opts.Peers.GetPeers() {
			out = append(out, PeerInfo{
				Instance: p.Instance,
				Hostname: p.Hostname,
				Version:  p.Version(),
				Mode:     p.Txt["mode"],
				Operator: p.Operator(),
				URL:      p.APIURL(),
			})
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}
