// Package orchestrator sequences the artifact pipeline over a whole network:
// allocate every address, create the certificate authority, issue one
// certificate per node, render one configuration document per node.
//
// A run is atomic. Any stage failure aborts the run and returns no artifact
// set, so a caller can never observe a network where some nodes are issued
// and others are not.
package orchestrator

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshforge/pkg/alloc"
	"meshforge/pkg/ca"
	"meshforge/pkg/mesh"
	"meshforge/pkg/render"
)

// ArtifactSet is the complete derived output for one network: the address
// assignment, the authority, and per-node certificates and rendered configs.
type ArtifactSet struct {
	Spec         mesh.NetworkSpec
	Assignment   alloc.Assignment
	Authority    *ca.Authority
	Certificates map[string]*ca.Certificate
	Configs      map[string][]byte
}

// Names returns the node names in sorted order, for stable iteration over
// the set.
func (s *ArtifactSet) Names() []string {
	names := make([]string, 0, len(s.Certificates))
	for name := range s.Certificates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Orchestrator runs the pipeline. The zero value is unusable; construct with
// New.
type Orchestrator struct {
	logger *zap.Logger
}

// New creates an orchestrator. A nil logger disables logging.
func New(logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{logger: logger}
}

// Run executes allocation, issuance, and rendering for every node in the
// specification. The input is never mutated. Stages are strictly ordered;
// per-node issuance and rendering fan out across goroutines since they have
// no cross-node dependency.
func (o *Orchestrator) Run(spec mesh.NetworkSpec) (*ArtifactSet, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network spec: %w", err)
	}

	assignment, err := alloc.Allocate(spec.Subnet, spec.Nodes)
	if err != nil {
		return nil, fmt.Errorf("address allocation failed: %w", err)
	}
	o.logger.Info("addresses allocated",
		zap.String("subnet", spec.Subnet.String()),
		zap.Int("nodes", len(spec.Nodes)))

	authority, err := ca.CreateAuthority(spec.SanitizedCAName(), spec.CAValidity)
	if err != nil {
		return nil, fmt.Errorf("authority creation failed: %w", err)
	}
	o.logger.Info("certificate authority created",
		zap.String("name", authority.Name()),
		zap.String("fingerprint", authority.Fingerprint()),
		zap.Time("not_after", authority.NotAfter()))

	// Leaves cannot outlive the root, and the root's window has already been
	// ticking since creation, so issue with what remains of it.
	leafValidity := spec.CAValidity
	if remaining := time.Until(authority.NotAfter()); remaining < leafValidity {
		leafValidity = remaining
	}

	topo := o.topology(spec, assignment)

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		certs = make(map[string]*ca.Certificate, len(spec.Nodes))
		confs = make(map[string][]byte, len(spec.Nodes))
		errs  []error
	)
	for _, node := range spec.Nodes {
		node := node
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := assignment[node.Name]
			cert, err := authority.Issue(node, addr, leafValidity)
			if err == nil {
				var conf []byte
				conf, err = render.Render(node, addr, cert, topo)
				if err == nil {
					mu.Lock()
					certs[node.Name] = cert
					confs[node.Name] = conf
					mu.Unlock()
					return
				}
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		o.logger.Error("run aborted", zap.Int("failures", len(errs)), zap.Error(errs[0]))
		return nil, fmt.Errorf("artifact generation failed: %w", errs[0])
	}

	for _, name := range sortedNames(spec.Nodes) {
		o.logger.Info("node artifacts generated",
			zap.String("node", name),
			zap.String("address", assignment[name].String()),
			zap.String("serial", certs[name].Serial()))
	}

	return &ArtifactSet{
		Spec:         spec,
		Assignment:   assignment,
		Authority:    authority,
		Certificates: certs,
		Configs:      confs,
	}, nil
}

// topology builds the network slice every node's document draws from: all
// lighthouses with their public endpoints and the overlay address of every
// relay.
func (o *Orchestrator) topology(spec mesh.NetworkSpec, assignment alloc.Assignment) render.Topology {
	topo := render.Topology{
		CAFile: spec.CAFilePrefix() + ".crt",
		Relays: make(map[string]netip.Addr),
	}
	for _, node := range spec.Lighthouses() {
		topo.Lighthouses = append(topo.Lighthouses, render.Peer{
			Name:   node.Name,
			Addr:   assignment[node.Name],
			Public: *node.Public,
		})
	}
	sort.Slice(topo.Lighthouses, func(i, j int) bool {
		return topo.Lighthouses[i].Name < topo.Lighthouses[j].Name
	})
	for _, node := range spec.Relays() {
		topo.Relays[node.Name] = assignment[node.Name]
	}
	return topo
}

func sortedNames(nodes []mesh.NodeSpec) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}
