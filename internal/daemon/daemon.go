/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package daemon runs the process that owns shared memory segments: it holds a
// singleton file lock, creates the configured segments, carves their pools and
// exposes health and metrics over HTTP until stopped.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/heptiolabs/healthcheck"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/shmipc-core/internal/logging"
	"github.com/srediag/shmipc-core/internal/metrics"
	"github.com/srediag/shmipc-core/pkg/filelock"
	"github.com/srediag/shmipc-core/pkg/shm"
)

const (
	lockRetryInitialInterval = 10 * time.Millisecond
	lockRetryMaxInterval     = 500 * time.Millisecond
	maxGoroutines            = 10000
	shutdownTimeout          = 5 * time.Second
)

var (
	logger = logging.New("daemon")

	// ErrAlreadyStarted is returned by Start on a running daemon.
	ErrAlreadyStarted = errors.New("daemon: already started")
)

// Segment is a live segment together with its carved pools.
type Segment struct {
	Config SegmentConfig
	Object *shm.SharedMemoryObject
	Layout *shm.SegmentLayout
}

// Daemon owns the configured segments while it holds the singleton lock.
type Daemon struct {
	conf     *Config
	health   healthcheck.Handler
	mux      *http.ServeMux
	segments cmap.ConcurrentMap[string, *Segment]
	locked   atomic.Bool

	mu       sync.Mutex
	lock     *filelock.FileLock
	server   *http.Server
	listener net.Listener
	started  bool
}

// New verifies conf and prepares a daemon. Nothing is acquired before Start.
func New(conf *Config) (*Daemon, error) {
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	d := &Daemon{
		conf:     conf,
		health:   healthcheck.NewHandler(),
		mux:      http.NewServeMux(),
		segments: cmap.New[*Segment](),
	}
	d.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	d.health.AddLivenessCheck("singleton-lock", d.checkLock)
	d.health.AddReadinessCheck("segments", d.checkSegments)

	d.mux.Handle("/live", d.health)
	d.mux.Handle("/ready", d.health)
	d.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return d, nil
}

// Handler serves /live, /ready and /metrics.
func (d *Daemon) Handler() http.Handler {
	return d.mux
}

func (d *Daemon) checkLock() error {
	if !d.locked.Load() {
		return errors.New("singleton lock is not held")
	}
	return nil
}

func (d *Daemon) checkSegments() error {
	if n := d.segments.Count(); n != len(d.conf.Segments) {
		return fmt.Errorf("%d of %d segments are ready", n, len(d.conf.Segments))
	}
	return nil
}

// Start takes the singleton lock, creates every configured segment and starts
// the HTTP server. On failure everything acquired so far is released.
func (d *Daemon) Start(ctx context.Context) (err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}

	lock, err := d.acquireLock(ctx)
	if err != nil {
		return err
	}
	d.lock = lock
	d.locked.Store(true)
	defer func() {
		if err != nil {
			d.closeSegments()
			d.releaseLock()
		}
	}()

	if err = d.createSegments(ctx); err != nil {
		return err
	}
	if d.conf.ListenAddress != "" {
		if err = d.serve(); err != nil {
			return err
		}
	}
	d.started = true
	logger.Infof("daemon started with %d segments, lock %s", d.segments.Count(), lock.Path())
	return nil
}

// acquireLock polls the singleton lock for at most LockWait. Only contention is
// retried, every other failure ends the attempt.
func (d *Daemon) acquireLock(ctx context.Context) (*filelock.FileLock, error) {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if d.conf.LockWait > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = lockRetryInitialInterval
		eb.MaxInterval = lockRetryMaxInterval
		eb.MaxElapsedTime = d.conf.LockWait
		policy = eb
	}

	var lock *filelock.FileLock
	op := func() error {
		l, err := filelock.NewBuilder().
			Name(d.conf.LockName).
			Path(d.conf.LockDirectory).
			Permission(filelock.DefaultPermission).
			Create(ctx)
		if err == nil {
			lock = l
			return nil
		}
		if errors.Is(err, filelock.ErrLockedByOtherProcess) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		logger.Infof("lock %q is held by another process, retrying in %s", d.conf.LockName, wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, err
	}
	return lock, nil
}

// createSegments creates the segments on a bounded worker pool.
func (d *Daemon) createSegments(ctx context.Context) error {
	if len(d.conf.Segments) == 0 {
		return nil
	}
	pool, err := ants.NewPool(d.conf.Workers, ants.WithPanicHandler(func(p interface{}) {
		logger.Errorf("segment worker panic: %v", p)
	}))
	if err != nil {
		return err
	}
	defer pool.Release()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for i := range d.conf.Segments {
		conf := d.conf.Segments[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := d.createSegment(ctx, conf); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("segment %q: %w", conf.Name, err))
				errMu.Unlock()
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (d *Daemon) createSegment(ctx context.Context, conf SegmentConfig) error {
	size, err := conf.SegmentSize()
	if err != nil {
		return err
	}
	unlink := shm.UnlinkNever
	if conf.UnlinkOnClose {
		unlink = shm.UnlinkIfOwner
	}
	obj, err := shm.NewSharedMemoryObjectBuilder().
		Name(conf.Name).
		MemorySizeInBytes(size).
		AccessMode(shm.ReadWrite).
		OpenMode(conf.OpenMode).
		Permissions(os.FileMode(conf.Permissions)).
		UnlinkPolicy(unlink).
		Create(ctx)
	if err != nil {
		return err
	}
	if !obj.HasOwnership() {
		logger.Warnf("segment %q already existed, attached without ownership", conf.Name)
	}

	var layout *shm.SegmentLayout
	if len(conf.Pools) > 0 {
		layout, err = shm.NewSegmentLayout(obj, conf.Pools)
		if err != nil {
			if cerr := obj.Close(); cerr != nil {
				logger.Errorf("unable to close segment %q after layout failure: %v", conf.Name, cerr)
			}
			return err
		}
	}

	d.segments.Set(conf.Name, &Segment{Config: conf, Object: obj, Layout: layout})
	metrics.SegmentSizeBytes.WithLabelValues(conf.Name).Set(float64(size))
	metrics.SegmentUsedBytes.WithLabelValues(conf.Name).Set(float64(obj.UsedBytes()))
	logger.Debugf("segment %q ready with %d bytes", conf.Name, size)
	return nil
}

func (d *Daemon) serve() error {
	l, err := net.Listen("tcp", d.conf.ListenAddress)
	if err != nil {
		return err
	}
	d.listener = l
	d.server = &http.Server{Handler: d.mux, ReadHeaderTimeout: 5 * time.Second}
	go func(srv *http.Server) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server stopped: %v", err)
		}
	}(d.server)
	return nil
}

// Addr returns the HTTP listen address, nil when not serving.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Segment returns the live segment called name.
func (d *Daemon) Segment(name string) (*Segment, bool) {
	return d.segments.Get(name)
}

// Stop shuts the HTTP server down, closes every segment and releases the lock.
// Stopping a daemon that is not running does nothing.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	d.started = false

	var errs []error
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		d.server = nil
		d.listener = nil
	}
	if err := d.closeSegments(); err != nil {
		errs = append(errs, err)
	}
	if err := d.releaseLock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run starts the daemon and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.Stop(stopCtx)
}

func (d *Daemon) closeSegments() error {
	var errs []error
	for item := range d.segments.IterBuffered() {
		if err := item.Val.Object.Close(); err != nil {
			errs = append(errs, fmt.Errorf("segment %q: %w", item.Key, err))
		}
		d.segments.Remove(item.Key)
		metrics.SegmentSizeBytes.DeleteLabelValues(item.Key)
		metrics.SegmentUsedBytes.DeleteLabelValues(item.Key)
	}
	return errors.Join(errs...)
}

func (d *Daemon) releaseLock() error {
	if d.lock == nil {
		return nil
	}
	d.locked.Store(false)
	err := d.lock.Release()
	d.lock = nil
	return err
}
