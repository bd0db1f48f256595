package discovery

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// Peer is a marketplace node seen on the network.
type Peer struct {
	Instance string            `json:"instance"`
	Hostname string            `json:"hostname"`
	Port     int               `json:"port"`
	Addrs    []net.IP          `json:"addrs"`
	Txt      map[string]string `json:"txt"`
}

// Version is the node version from the TXT record.
func (p *Peer) Version() string { return p.Txt["ver"] }

// Operator is the fee recipient address the node announced.
func (p *Peer) Operator() string { return p.Txt["operator"] }

// APIURL returns the base URL of the node's HTTP API, or "" when no
// address has been resolved yet.
func (p *Peer) APIURL() string {
	if len(p.Addrs) == 0 {
		return ""
	}
	return "http://" + net.JoinHostPort(p.Addrs[0].String(), strconv.Itoa(p.Port))
}

// PeerStore is a thread-safe store of discovered nodes.
type PeerStore struct {
	mtx   sync.RWMutex
	peers map[string]*Peer // keyed by instance
}

// NewPeerStore creates an empty PeerStore.
func NewPeerStore() *PeerStore {
	return &PeerStore{peers: make(map[string]*Peer)}
}

// AddFromServiceEntry adds or updates a node from a zeroconf ServiceEntry.
func (ps *PeerStore) AddFromServiceEntry(e *zeroconf.ServiceEntry) {
	if e == nil {
		return
	}

	txt := make(map[string]string, len(e.Text))
	for _, t := range e.Text {
		if k, v, ok := strings.Cut(t, "="); ok {
			txt[k] = v
		}
	}

	addrs := append([]net.IP(nil), e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)

	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	ps.peers[e.Instance] = &Peer{
		Instance: e.Instance,
		Hostname: e.HostName,
		Port:     e.Port,
		Addrs:    addrs,
		Txt:      txt,
	}
}

// Remove removes a node by instance name.
func (ps *PeerStore) Remove(instance string) {
	ps.mtx.Lock()
	defer ps.mtx.Unlock()
	delete(ps.peers, instance)
}

// List returns a snapshot of known nodes ordered by instance name.
func (ps *PeerStore) List() []*Peer {
	ps.mtx.RLock()
	defer ps.mtx.RUnlock()
	out := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// APIURLs returns the API base URL of every node with a resolved address.
func (ps *PeerStore) APIURLs() []string {
	var out []string
	for _, p := range ps.List() {
		if u := p.APIURL(); u != "" {
			out = append(out, u)
		}
	}
	return out
}
