// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// maintenance runs the periodic cleanup and consolidation sweeps over
// active users. Sweeps are serialized per (operation, user) with
// singleflight so a slow pass and the next tick never overlap, and sweep
// errors are logged, never propagated.
type maintenance struct {
	mgr    *Manager
	flight singleflight.Group
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func newMaintenance(mgr *Manager) *maintenance {
	return &maintenance{mgr: mgr, done: make(chan struct{})}
}

func (b *maintenance) start() {
	b.once.Do(func() {
		b.wg.Add(2)
		go b.loop(b.mgr.cfg.CleanupInterval, "cleanup", func(ctx context.Context, user string) error {
			_, err := b.mgr.Cleanup(ctx, user)
			return err
		})
		go b.loop(b.mgr.cfg.ConsolidationInterval, "consolidation", func(ctx context.Context, user string) error {
			_, err := b.mgr.Consolidate(ctx, user)
			return err
		})
	})
}

func (b *maintenance) loop(interval time.Duration, name string, sweep func(context.Context, string) error) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.sweepAll(name, sweep)
		}
	}
}

func (b *maintenance) sweepAll(name string, sweep func(context.Context, string) error) {
	ctx := context.Background()
	for _, user := range b.mgr.snapshotActiveUsers() {
		_, err, _ := b.flight.Do(name+":"+user, func() (any, error) {
			return nil, sweep(ctx, user)
		})
		if err != nil {
			b.mgr.logger.Error("memory maintenance sweep failed",
				"sweep", name, "user_id", user, "error", err)
		}
	}
}

func (b *maintenance) stop() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.wg.Wait()
}
