// Package scheduler decides which unit of work runs next: the unified
// account scheduler picks an upstream provider account for each request
// (binding resolution, gating, sticky sessions, priority/LRU selection,
// global session binding), and the admission queue decides when each
// apiKey's request may enter the dispatch pipeline at all.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/axiomrelay/gateway/internal/accounts"
	"github.com/axiomrelay/gateway/internal/kvstore"
	"github.com/axiomrelay/gateway/internal/vault"
)

// ErrNoAvailableAccount is returned when candidate construction and gating
// leave no eligible account; callers surface this as HTTP 503.
var ErrNoAvailableAccount = errors.New("scheduler: no available account")

// ErrSessionBindingInvalid is returned when global session binding
// resolves to an account that is no longer usable.
var ErrSessionBindingInvalid = errors.New("scheduler: session binding invalid")

const (
	stickySessionTTL    = time.Hour
	originalBindingTTL  = 30 * 24 * time.Hour
)

var sessionIDPattern = regexp.MustCompile(`session_([0-9a-fA-F-]+)$`)

// Selection is the result of Select: the chosen account plus whether a
// global session binding produced it (used by callers deciding whether to
// record a new binding).
type Selection struct {
	Ref               accounts.AccountRef
	FromStickySession bool
	FromGlobalBinding bool
}

// SelectOptions narrows candidate construction.
type SelectOptions struct {
	Platform          accounts.Platform
	RequestedModel    string
	AllowAPIAccounts  bool
	Binding           string // "" | "group:<id>" | "<accountId>"
	SessionHash       string
	RestrictedModels  map[string]struct{}
	GlobalSessionUserID string // raw metadata.user_id, used for claude-official binding extraction
}

// Scheduler implements the unified account scheduler: given an apiKey's
// binding configuration and a candidate pool, it selects one
// account per request, honoring sticky sessions, priority partitions, and
// claude-official's long-lived global session binding.
type Scheduler struct {
	kv        kvstore.Store
	refresher *accounts.TokenRefresher

	repos  map[accounts.Platform]*accounts.Repository
	groups map[accounts.Platform]*accounts.GroupRepository
	sm     map[accounts.Platform]*accounts.StateMachine

	globalSessionBindingEnabled bool
	sessionBindingErrorMessage  string
}

// Config wires the per-platform repositories the scheduler draws candidates
// from.
type Config struct {
	KV                          kvstore.Store
	Vault                       *vault.Vault
	OAuthClients                map[accounts.Platform]accounts.OAuthClientConfig
	Repositories                map[accounts.Platform]*accounts.Repository
	Groups                      map[accounts.Platform]*accounts.GroupRepository
	StateMachines               map[accounts.Platform]*accounts.StateMachine
	GlobalSessionBindingEnabled bool
	SessionBindingErrorMessage  string
}

// New builds a Scheduler from cfg.
func New(cfg Config) *Scheduler {
	msg := cfg.SessionBindingErrorMessage
	if msg == "" {
		msg = "the bound session is no longer available"
	}
	return &Scheduler{
		kv:                          cfg.KV,
		refresher:                   accounts.NewTokenRefresher(cfg.Vault, cfg.OAuthClients),
		repos:                       cfg.Repositories,
		groups:                      cfg.Groups,
		sm:                          cfg.StateMachines,
		globalSessionBindingEnabled: cfg.GlobalSessionBindingEnabled,
		sessionBindingErrorMessage:  msg,
	}
}

// SessionHash computes the sticky-session key: SHA256 of
// userAgent:ip:first-10-of-keyPrefix, with empty fields dropped.
func SessionHash(userAgent, ip, apiKeyHeader string) string {
	prefix := apiKeyHeader
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	var parts []string
	for _, p := range []string{userAgent, ip, prefix} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}

// Select resolves opts to a concrete account, trying global session
// binding (claude only, when enabled), sticky session, then priority/LRU
// selection in turn.
func (s *Scheduler) Select(ctx context.Context, opts SelectOptions) (Selection, error) {
	if s.globalSessionBindingEnabled && opts.Platform == accounts.PlatformClaude {
		if sel, handled, err := s.tryGlobalSessionBinding(ctx, opts); handled {
			return sel, err
		}
	}

	candidates, err := s.buildCandidates(ctx, opts)
	if err != nil {
		return Selection{}, err
	}
	if len(candidates) == 0 {
		return Selection{}, ErrNoAvailableAccount
	}

	if opts.SessionHash != "" {
		if ref, ok := s.stickyMatch(ctx, opts.SessionHash, candidates); ok {
			s.touchSticky(ctx, opts.SessionHash, ref)
			return Selection{Ref: ref, FromStickySession: true}, nil
		}
	}

	selected := selectByPriorityThenLRU(candidates)
	if opts.SessionHash != "" {
		s.touchSticky(ctx, opts.SessionHash, selected)
	}

	sel := Selection{Ref: selected}
	if s.globalSessionBindingEnabled && selected.Platform() == accounts.PlatformClaude && opts.GlobalSessionUserID != "" {
		s.recordGlobalBinding(ctx, opts.GlobalSessionUserID, selected)
	}
	return sel, nil
}

// buildCandidates resolves opts.Binding to the candidate pool: a group's
// members, a single pinned account, or every shared account on the
// platform, each then run through gate.
func (s *Scheduler) buildCandidates(ctx context.Context, opts SelectOptions) ([]accounts.AccountRef, error) {
	repo, ok := s.repos[opts.Platform]
	if !ok {
		return nil, fmt.Errorf("scheduler: no repository configured for platform %s", opts.Platform)
	}

	var ids []string
	switch {
	case strings.HasPrefix(opts.Binding, "group:"):
		groupID := strings.TrimPrefix(opts.Binding, "group:")
		grpRepo, ok := s.groups[opts.Platform]
		if !ok {
			return nil, fmt.Errorf("scheduler: no group repository for platform %s", opts.Platform)
		}
		grp, err := grpRepo.Get(ctx, groupID)
		if err != nil {
			return nil, err
		}
		ids = grp.Members
	case opts.Binding != "":
		ids = []string{opts.Binding}
	default:
		all, err := repo.ListAll(ctx, false)
		if err != nil {
			return nil, err
		}
		ids = make([]string, 0, len(all))
		for _, a := range all {
			if a.AccountType == accounts.AccountTypeShared {
				ids = append(ids, a.ID)
			}
		}
	}

	candidates := make([]accounts.AccountRef, 0, len(ids))
	for _, id := range ids {
		a, err := repo.Get(ctx, id)
		if err != nil {
			continue
		}

		if sm, ok := s.sm[opts.Platform]; ok {
			if recovered, err := sm.RecoverIfDue(ctx, a); err == nil && recovered {
				a.Status = accounts.StatusActive
				a.Schedulable = true
			}
		}

		if !s.gate(ctx, repo, opts, a) {
			continue
		}
		candidates = append(candidates, accounts.RefFor(a))
	}
	return candidates, nil
}

// gate applies the per-candidate eligibility checks: active/schedulable
// status, account-kind restriction, model support, and token expiry.
func (s *Scheduler) gate(ctx context.Context, repo *accounts.Repository, opts SelectOptions, a *accounts.Account) bool {
	if !a.IsActive || !a.Schedulable || a.Status != accounts.StatusActive {
		return false
	}
	if a.Kind == accounts.KindAPIKey && !opts.AllowAPIAccounts {
		return false
	}
	if opts.RequestedModel != "" && !a.SupportsModel(opts.RequestedModel) {
		return false
	}
	if len(opts.RestrictedModels) > 0 && opts.RequestedModel != "" {
		if _, allowed := opts.RestrictedModels[opts.RequestedModel]; !allowed {
			return false
		}
	}
	if a.IsTokenExpired() {
		if err := s.refresher.Refresh(ctx, repo, a); err != nil {
			log.WithError(err).WithField("account_id", a.ID).Warn("scheduler: lazy token refresh failed, gating out")
			if err := repo.MarkUnauthorized(ctx, a.ID, "token refresh failed"); err != nil {
				log.WithError(err).Warn("scheduler: failed to mark expired account unauthorized")
			}
			return false
		}
	}
	return true
}

func (s *Scheduler) stickyMatch(ctx context.Context, sessionHash string, candidates []accounts.AccountRef) (accounts.AccountRef, bool) {
	val, err := s.kv.Get(ctx, sessionKey(sessionHash))
	if err != nil || val == "" {
		return nil, false
	}
	for _, c := range candidates {
		if c.ID() == val {
			return c, true
		}
	}
	return nil, false
}

func (s *Scheduler) touchSticky(ctx context.Context, sessionHash string, ref accounts.AccountRef) {
	if err := s.kv.Set(ctx, sessionKey(sessionHash), ref.ID(), stickySessionTTL); err != nil {
		log.WithError(err).Warn("scheduler: failed to write sticky session")
	}
}

func sessionKey(hash string) string { return "session:" + hash }

// selectByPriorityThenLRU partitions candidates ascending by priority,
// within the lowest non-empty partition picks least-recent
// lastUsedAt, ties broken lexicographically by id.
func selectByPriorityThenLRU(candidates []accounts.AccountRef) accounts.AccountRef {
	sorted := make([]accounts.AccountRef, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	lowest := sorted[0].Priority()
	var partition []accounts.AccountRef
	for _, c := range sorted {
		if c.Priority() == lowest {
			partition = append(partition, c)
		}
	}

	sort.Slice(partition, func(i, j int) bool {
		iOK, iT := partition[i].LastUsedAtUnixNano()
		jOK, jT := partition[j].LastUsedAtUnixNano()
		switch {
		case !iOK && !jOK:
			return partition[i].ID() < partition[j].ID()
		case !iOK:
			return true
		case !jOK:
			return false
		case iT != jT:
			return iT < jT
		default:
			return partition[i].ID() < partition[j].ID()
		}
	})
	return partition[0]
}

// tryGlobalSessionBinding resolves claude-official's long-lived session
// binding. handled=false means the caller should fall through to ordinary
// selection (no user id present, or no binding on file yet).
func (s *Scheduler) tryGlobalSessionBinding(ctx context.Context, opts SelectOptions) (Selection, bool, error) {
	m := sessionIDPattern.FindStringSubmatch(opts.GlobalSessionUserID)
	if m == nil {
		return Selection{}, false, nil
	}
	sid := m[1]

	val, err := s.kv.Get(ctx, bindingKey(sid))
	if err != nil || val == "" {
		return Selection{}, false, nil
	}

	parts := strings.SplitN(val, "|", 2)
	if len(parts) != 2 {
		return Selection{}, false, nil
	}
	accountID := parts[0]

	repo, ok := s.repos[accounts.PlatformClaude]
	if !ok {
		return Selection{}, true, fmt.Errorf("scheduler: no claude repository configured")
	}
	a, err := repo.Get(ctx, accountID)
	if err != nil || !a.IsActive || a.Status == accounts.StatusError {
		log.WithField("session_id", sid).Warn("scheduler: global session binding points to an invalid account")
		return Selection{}, true, fmt.Errorf("%w: %s", ErrSessionBindingInvalid, s.sessionBindingErrorMessage)
	}

	_ = s.kv.Expire(ctx, bindingKey(sid), originalBindingTTL)
	return Selection{Ref: accounts.RefFor(a), FromGlobalBinding: true}, true, nil
}

func (s *Scheduler) recordGlobalBinding(ctx context.Context, userID string, ref accounts.AccountRef) {
	m := sessionIDPattern.FindStringSubmatch(userID)
	if m == nil {
		return
	}
	sid := m[1]
	val := fmt.Sprintf("%s|%d", ref.ID(), time.Now().Unix())
	if err := s.kv.Set(ctx, bindingKey(sid), val, originalBindingTTL); err != nil {
		log.WithError(err).Warn("scheduler: failed to record global session binding")
	}
}

func bindingKey(sid string) string { return "original_session_binding:" + sid }
