// Package portforward is the Port-Forward Rule Store: a persistent set
// of host-port -> container-port DNAT rules, each backed by three
// iptables rules (PREROUTING DNAT, POSTROUTING MASQUERADE, FORWARD
// ACCEPT) driven entirely through the Host Invoker.
package portforward

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nspawnhost/nspawnd/pkg/errs"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/log"
	"github.com/nspawnhost/nspawnd/pkg/metrics"
	"github.com/nspawnhost/nspawnd/pkg/storage"
	"github.com/nspawnhost/nspawnd/pkg/types"
)

// Store manages the persisted set of port-forward rules and the
// iptables state that implements them. Add/Remove serialize under a
// single mutex, mirroring the Lifecycle Controller's per-name locking
// at rule-store granularity (spec.md §4.7 permits this simplification
// since rule churn is low).
type Store struct {
	mu      sync.Mutex
	invoker hostinvoker.RunFunc
	store   storage.Store
}

// New builds a Store.
func New(invoker hostinvoker.RunFunc, store storage.Store) *Store {
	return &Store{invoker: invoker, store: store}
}

// Add validates that (host_port, protocol) is unique, installs the
// three iptables rules, and only then persists the rule. A failure at
// any iptables step rolls back the rules already installed.
func (s *Store) Add(ctx context.Context, containerID, containerIP string, hostPort, containerPort int, proto types.Protocol) (*types.PortForwardRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule := types.PortForwardRule{
		ID:            uuid.NewString(),
		HostPort:      hostPort,
		ContainerID:   containerID,
		ContainerPort: containerPort,
		Protocol:      proto,
	}

	existing, err := s.store.ListPortForwardRules()
	if err != nil {
		return nil, errs.New(errs.HostError, err)
	}
	for _, e := range existing {
		if e.Key() == rule.Key() {
			return nil, errs.Newf(errs.RuleConflict, "port %d/%s is already forwarded", hostPort, proto)
		}
	}

	if err := s.installRules(ctx, containerIP, rule); err != nil {
		return nil, err
	}

	if err := s.store.CreatePortForwardRule(&rule); err != nil {
		s.removeRules(ctx, containerIP, rule)
		return nil, errs.New(errs.HostError, err)
	}

	metrics.DNATRulesInstalled.Inc()
	return &rule, nil
}

// Remove reverses a rule's iptables state (best-effort; cleanup errors
// are logged, not returned, since leaving a stale rule behind is
// preferable to refusing the delete) and removes it from the store.
func (s *Store) Remove(ctx context.Context, containerIP, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.store.GetPortForwardRule(id)
	if err != nil {
		return err
	}

	s.removeRules(ctx, containerIP, *rule)

	if err := s.store.DeletePortForwardRule(id); err != nil {
		return err
	}
	metrics.DNATRulesInstalled.Dec()
	return nil
}

// List returns every persisted port-forward rule.
func (s *Store) List(ctx context.Context) ([]*types.PortForwardRule, error) {
	return s.store.ListPortForwardRules()
}

// Reconcile performs a single add-if-missing pass over every persisted
// rule: for each, it checks whether the DNAT rule is already present
// (iptables -C) and installs the full rule triplet only if absent.
// Unlike the teacher's ticker-driven reconciler this is a single pass
// that repairs state lost across a process restart; nothing re-runs it
// on a timer, and nspawnctl does not call it.
func (s *Store) Reconcile(ctx context.Context, containerIPs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rules, err := s.store.ListPortForwardRules()
	if err != nil {
		return errs.New(errs.HostError, err)
	}

	for _, rule := range rules {
		ip, ok := containerIPs[rule.ContainerID]
		if !ok {
			log.WithComponent("portforward").Warn().
				Str("container_id", rule.ContainerID).
				Msg("skipping reconciliation: container has no known address")
			continue
		}

		present, err := s.dnatRuleExists(ctx, ip, *rule)
		if err != nil {
			return err
		}
		if present {
			continue
		}

		log.WithComponent("portforward").Info().
			Str("container_id", rule.ContainerID).
			Int("host_port", rule.HostPort).
			Msg("reinstalling missing port-forward rule")
		if err := s.installRules(ctx, ip, *rule); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) installRules(ctx context.Context, containerIP string, rule types.PortForwardRule) error {
	for _, args := range ruleArgs("-A", containerIP, rule) {
		if err := s.runIPTables(ctx, args); err != nil {
			s.removeRules(ctx, containerIP, rule)
			return errs.Newf(errs.HostError, "install rule: %w", err)
		}
	}
	return nil
}

func (s *Store) removeRules(ctx context.Context, containerIP string, rule types.PortForwardRule) {
	for _, args := range ruleArgs("-D", containerIP, rule) {
		if err := s.runIPTables(ctx, args); err != nil {
			log.WithComponent("portforward").Warn().Err(err).
				Strs("args", args).Msg("failed to remove iptables rule during cleanup")
		}
	}
}

func (s *Store) dnatRuleExists(ctx context.Context, containerIP string, rule types.PortForwardRule) (bool, error) {
	args := dnatArgs("-C", containerIP, rule)
	result := s.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   "port_forward_check",
		Argv:    append([]string{"iptables"}, args...),
		Timeout: hostinvoker.TimeoutFirewall,
	})
	if result.Err != nil {
		return false, errs.New(errs.HostError, result.Err)
	}
	return result.ExitCode == 0, nil
}

func (s *Store) runIPTables(ctx context.Context, args []string) error {
	result := s.invoker.Run(ctx, hostinvoker.Spec{
		Stage:   "port_forward",
		Argv:    append([]string{"iptables"}, args...),
		Timeout: hostinvoker.TimeoutFirewall,
	})
	if result.Err != nil {
		return result.Err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("iptables %s: exit %d: %s", strings.Join(args, " "), result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return nil
}

// ruleArgs returns the three iptables invocations (DNAT, MASQUERADE,
// FORWARD) that together implement one port-forward rule, grounded on
// the same three-chain structure the teacher's host port publisher
// uses for published service ports.
func ruleArgs(action, containerIP string, rule types.PortForwardRule) [][]string {
	return [][]string{
		dnatArgs(action, containerIP, rule),
		masqueradeArgs(action, containerIP, rule),
		forwardArgs(action, containerIP, rule),
	}
}

func dnatArgs(action, containerIP string, rule types.PortForwardRule) []string {
	return []string{
		"-t", "nat", action, "PREROUTING",
		"-p", string(rule.Protocol),
		"--dport", strconv.Itoa(rule.HostPort),
		"-j", "DNAT",
		"--to-destination", fmt.Sprintf("%s:%d", containerIP, rule.ContainerPort),
	}
}

func masqueradeArgs(action, containerIP string, rule types.PortForwardRule) []string {
	return []string{
		"-t", "nat", action, "POSTROUTING",
		"-p", string(rule.Protocol),
		"-d", containerIP,
		"--dport", strconv.Itoa(rule.ContainerPort),
		"-j", "MASQUERADE",
	}
}

func forwardArgs(action, containerIP string, rule types.PortForwardRule) []string {
	return []string{
		action, "FORWARD",
		"-p", string(rule.Protocol),
		"-d", containerIP,
		"--dport", strconv.Itoa(rule.ContainerPort),
		"-j", "ACCEPT",
	}
}
