// Package discovery announces a marketplace node on the local network over
// mDNS and browses for other nodes. Found nodes are kept in a PeerStore and
// served by /api/peers; mktctl uses Lookup to find a node to talk to.
package discovery

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("discovery")

// ServiceName is the mDNS service type marketplace nodes announce.
const ServiceName = "_mkt._tcp"

const domain = "local."

// Announcement is what a node publishes about itself in its TXT record.
type Announcement struct {
	Version  string
	Mode     string
	Operator string
}

func (a Announcement) txt() []string {
	return []string{
		"txtv=1",
		"ver=" + a.Version,
		"mode=" + a.Mode,
		"operator=" + a.Operator,
	}
}

// DiscoveryService registers the local node and tracks remote ones.
type DiscoveryService struct {
	serviceName string
	resolver    *zeroconf.Resolver
	server      *zeroconf.Server
	peerStore   *PeerStore
	cancel      context.CancelFunc
}

// NewDiscoveryService creates a new mDNS discovery service.
func NewDiscoveryService(serviceName string) (*DiscoveryService, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	return &DiscoveryService{
		serviceName: serviceName,
		resolver:    resolver,
		peerStore:   NewPeerStore(),
	}, nil
}

// Start announces the node's API port and begins browsing for other nodes.
func (s *DiscoveryService) Start(port int, ann Announcement) error {
	hostname, _ := os.Hostname()

	server, err := zeroconf.Register(hostname, s.serviceName, domain, port, ann.txt(), nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", s.serviceName, err)
	}
	s.server = server
	log.Infof("announced %s from host %s on port %d", s.serviceName, hostname, port)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.browse(ctx, hostname)

	return nil
}

func (s *DiscoveryService) browse(ctx context.Context, self string) {
	entries := make(chan *zeroconf.ServiceEntry)
	go func(results <-chan *zeroconf.ServiceEntry) {
		for entry := range results {
			if entry.Instance == self {
				continue
			}
			if entry.TTL == 0 {
				log.Infof("node left: %s", entry.Instance)
				s.peerStore.Remove(entry.Instance)
				continue
			}
			log.Infof("node found: %s port %d", entry.Instance, entry.Port)
			s.peerStore.AddFromServiceEntry(entry)
		}
	}(entries)

	if err := s.resolver.Browse(ctx, s.serviceName, domain, entries); err != nil {
		log.Errorf("browse %s: %v", s.serviceName, err)
		return
	}
	<-ctx.Done()
	log.Debug("browsing stopped")
}

// GetPeers returns a snapshot of discovered nodes.
func (s *DiscoveryService) GetPeers() []*Peer {
	if s == nil || s.peerStore == nil {
		return nil
	}
	return s.peerStore.List()
}

// Stop withdraws the announcement and stops browsing.
func (s *DiscoveryService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	log.Info("discovery stopped")
}

// Lookup browses for serviceName for the given duration and returns every
// node that answered.
func Lookup(ctx context.Context, serviceName string, wait time.Duration) ([]*Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ps := NewPeerStore()
	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, serviceName, domain, entries); err != nil {
		return nil, fmt.Errorf("browse %s: %w", serviceName, err)
	}
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return ps.List(), nil
			}
			if entry.TTL > 0 {
				ps.AddFromServiceEntry(entry)
			}
		case <-ctx.Done():
			return ps.List(), nil
		}
	}
}
