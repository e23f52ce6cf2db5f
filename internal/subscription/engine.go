// Package subscription implements the Subscription Engine (spec §4.6): the
// checkout-diff watcher that recomputes and pushes dirty-file lists on
// filesystem change, debounced the way the teacher's workspace tracker
// debounces fsnotify bursts before recomputing git status.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/session"
	"github.com/paseohq/paseod/internal/wsproto"
)

const debounceDuration = 300 * time.Millisecond

// Engine owns one fsnotify watch per cwd with at least one live
// checkout_diff subscriber, fanning out recomputed diffs to the session
// hub's checkout_diff topics.
type Engine struct {
	mu    sync.Mutex
	trees map[string]*tree // cwd -> watched tree

	hub    *session.Hub
	logger *logger.Logger
}

// tree is one watched working directory, shared by both diff modes.
type tree struct {
	cwd      string
	watcher  *fsnotify.Watcher
	refCount int
	modes    map[Mode]bool
	cancel   context.CancelFunc
}

// NewEngine creates an Engine publishing through hub.
func NewEngine(hub *session.Hub, log *logger.Logger) *Engine {
	return &Engine{
		trees:  make(map[string]*tree),
		hub:    hub,
		logger: log.WithFields(zap.String("component", "subscription-engine")),
	}
}

// checkoutTopic names the hub topic for one (cwd, mode) checkout_diff
// subscription.
func checkoutTopic(cwd string, mode Mode) string {
	return fmt.Sprintf("checkout_diff:%s:%s", cwd, mode)
}

// SubscribeCheckoutDiff registers client's subscriptionID on the
// (cwd, mode) topic, starts the watcher if this is the tree's first
// subscriber, and publishes the current diff immediately so the client
// never needs a separate priming query (spec §4.6's guarantee).
func (e *Engine) SubscribeCheckoutDiff(ctx context.Context, client *session.Client, subscriptionID, cwd string, mode Mode) error {
	topic := checkoutTopic(cwd, mode)
	e.hub.Subscribe(client, subscriptionID, topic)
	e.acquireTree(cwd, mode)

	diff, err := computeDiff(ctx, cwd, mode)
	if err != nil {
		e.logger.Warn("initial checkout diff failed", zap.String("cwd", cwd), zap.Error(err))
		diff = []FileDiff{}
	}
	e.publish(topic, diff)
	return nil
}

// UnsubscribeCheckoutDiff tears down client's subscription and releases the
// underlying watcher once no subscriber remains for that cwd.
func (e *Engine) UnsubscribeCheckoutDiff(client *session.Client, subscriptionID, cwd string) {
	e.hub.Unsubscribe(client, subscriptionID)
	e.releaseTree(cwd)
}

func (e *Engine) acquireTree(cwd string, mode Mode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trees[cwd]
	if !ok {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			e.logger.Warn("failed to create fsnotify watcher", zap.String("cwd", cwd), zap.Error(err))
			return
		}
		if err := watcher.Add(cwd); err != nil {
			e.logger.Warn("failed to watch cwd", zap.String("cwd", cwd), zap.Error(err))
			_ = watcher.Close()
			return
		}
		watchCtx, cancel := context.WithCancel(context.Background())
		t = &tree{cwd: cwd, watcher: watcher, modes: make(map[Mode]bool), cancel: cancel}
		e.trees[cwd] = t
		go e.watchLoop(watchCtx, t)
	}
	t.refCount++
	t.modes[mode] = true
}

func (e *Engine) releaseTree(cwd string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trees[cwd]
	if !ok {
		return
	}
	t.refCount--
	if t.refCount <= 0 {
		t.cancel()
		_ = t.watcher.Close()
		delete(e.trees, cwd)
	}
}

// watchLoop debounces fsnotify bursts before recomputing every mode
// currently watched for t.cwd, grounded on the teacher's monitorLoop.
func (e *Engine) watchLoop(ctx context.Context, t *tree) {
	var debounceTimer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if debounceTimer == nil {
			debounceTimer = time.NewTimer(debounceDuration)
		} else {
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(debounceDuration)
		}
		timerC = debounceTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Chmod != 0 && event.Op == fsnotify.Chmod {
				continue
			}
			resetTimer()

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Debug("checkout diff watcher error", zap.String("cwd", t.cwd), zap.Error(err))

		case <-timerC:
			timerC = nil
			e.recompute(t)
		}
	}
}

func (e *Engine) recompute(t *tree) {
	e.mu.Lock()
	modes := make([]Mode, 0, len(t.modes))
	for m := range t.modes {
		modes = append(modes, m)
	}
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, mode := range modes {
		diff, err := computeDiff(ctx, t.cwd, mode)
		if err != nil {
			e.logger.Debug("checkout diff recompute failed", zap.String("cwd", t.cwd), zap.Error(err))
			continue
		}
		e.publish(checkoutTopic(t.cwd, mode), diff)
	}
}

func (e *Engine) publish(topic string, files []FileDiff) {
	env, err := wsproto.NewEvent(wsproto.TypeCheckoutDiffUpdate, map[string]interface{}{"files": files})
	if err != nil {
		e.logger.Error("failed to encode checkout_diff_update", zap.Error(err))
		return
	}
	e.hub.Publish(session.TopicEvent{Topic: topic, Envelope: env})
}

// CheckoutStatus implements checkoutStatus: a point-in-time summary without
// opening a subscription (spec §6.2).
func (e *Engine) CheckoutStatus(ctx context.Context, cwd string) ([]FileDiff, error) {
	return computeDiff(ctx, cwd, ModeUncommitted)
}

// CheckoutPRStatus implements checkoutPrStatus: the working tree against
// the upstream merge-base, for previewing what a PR would contain.
func (e *Engine) CheckoutPRStatus(ctx context.Context, cwd string) ([]FileDiff, error) {
	return computeDiff(ctx, cwd, ModeCommittedVsBase)
}

// HighlightedDiff implements getHighlightedDiff: the hunks for a single
// file, reusing the same git plumbing as the watcher.
func (e *Engine) HighlightedDiff(ctx context.Context, cwd, path string) ([]string, error) {
	base, err := diffBase(ctx, cwd, ModeUncommitted)
	if err != nil {
		return nil, err
	}
	return fileHunks(ctx, cwd, path, base)
}
