// Package engine runs the three-phase analysis over a batch of projects.
//
// Phase 1 normalizes and graphs every file of a unit in parallel. After a
// barrier, phase 2 builds a read-only index of the unit and runs the
// linker, sidechain associator, snapshot detector and SDK scoring side by
// side. Phase 3 classifies each session. Units never share state, and a
// failure in one is reported without stopping the others.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Zuo-Peng/ai-session-graph/internal/classify"
	"github.com/Zuo-Peng/ai-session-graph/internal/graph"
	"github.com/Zuo-Peng/ai-session-graph/internal/link"
	"github.com/Zuo-Peng/ai-session-graph/internal/manifest"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/scan"
	"github.com/Zuo-Peng/ai-session-graph/internal/sidechain"
	"github.com/Zuo-Peng/ai-session-graph/internal/snapshot"
)

// Cache holds normalized files between runs. Load is called from
// several goroutines at once; Store only from one.
type Cache interface {
	Load(path string, mtime, size int64) (*parse.File, bool)
	Store(f *parse.File) error
}

type Options struct {
	Workers  int
	Aliases  map[string][]string
	Parse    parse.Options
	Snapshot snapshot.Options
	Classify classify.Config
	Cache    Cache    // optional
	TodoDirs []string // searched before <project>/todos
	Logger   *zap.Logger
}

// ProjectFatalError aborts one project's analysis.
type ProjectFatalError struct {
	Project string
	Err     error
}

func (e *ProjectFatalError) Error() string {
	return fmt.Sprintf("project %s: %v", e.Project, e.Err)
}

func (e *ProjectFatalError) Unwrap() error { return e.Err }

type Stats struct {
	Projects int
	Files    int
	Parsed   int
	Cached   int
	Fatal    int
}

func (s Stats) String() string {
	return fmt.Sprintf("projects=%d files=%d parsed=%d cached=%d fatal=%d",
		s.Projects, s.Files, s.Parsed, s.Cached, s.Fatal)
}

type Report struct {
	Manifests []*manifest.Manifest // sorted by project
	Paths     map[string]string    // session key -> file path
	Fatal     []*ProjectFatalError
	Stats     Stats
}

type Engine struct {
	opts       Options
	log        *zap.Logger
	classifier *classify.Classifier
}

func New(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classify.SDK.Threshold == 0 && opts.Classify.SDK.MaxNodes == 0 {
		opts.Classify = classify.DefaultConfig()
	}
	return &Engine{
		opts:       opts,
		log:        opts.Logger,
		classifier: classify.New(opts.Classify),
	}
}

type unitResult struct {
	manifests []*manifest.Manifest
	paths     map[string]string
	fatal     []*ProjectFatalError
	parsed    int
	cached    int
}

// Run analyses projects. Every readable session file ends up as exactly
// one manifest row; projects that cannot be analysed are listed in
// Report.Fatal instead.
func (e *Engine) Run(ctx context.Context, projects []scan.Project) *Report {
	units, fatal := groupUnits(projects, e.opts.Aliases)
	for _, f := range fatal {
		e.log.Warn("project unreadable", zap.String("project", f.Project), zap.Error(f.Err))
	}

	results := make([]unitResult, len(units))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, u := range units {
		g.Go(func() error {
			results[i] = e.runUnit(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	rep := &Report{Paths: make(map[string]string), Fatal: fatal}
	for _, r := range results {
		rep.Manifests = append(rep.Manifests, r.manifests...)
		rep.Fatal = append(rep.Fatal, r.fatal...)
		for k, p := range r.paths {
			rep.Paths[k] = p
		}
		rep.Stats.Parsed += r.parsed
		rep.Stats.Cached += r.cached
	}
	sort.Slice(rep.Manifests, func(i, j int) bool { return rep.Manifests[i].Project < rep.Manifests[j].Project })
	sort.Slice(rep.Fatal, func(i, j int) bool { return rep.Fatal[i].Project < rep.Fatal[j].Project })

	rep.Stats.Projects = len(rep.Manifests)
	rep.Stats.Fatal = len(rep.Fatal)
	for _, m := range rep.Manifests {
		rep.Stats.Files += len(m.Sessions)
	}
	return rep
}

// runUnit isolates one unit: any error or panic becomes a fatal error
// for each of its projects.
func (e *Engine) runUnit(ctx context.Context, u unit) (res unitResult) {
	log := e.log.With(zap.String("unit", u.name))
	fail := func(err error) unitResult {
		log.Warn("unit failed", zap.Error(err))
		out := unitResult{}
		for _, p := range u.projects {
			out.fatal = append(out.fatal, &ProjectFatalError{Project: p.Name, Err: err})
		}
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			res = fail(fmt.Errorf("panic: %v", r))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res, err := e.analyze(ctx, u, log)
	if err != nil {
		return fail(err)
	}
	return res
}

func (e *Engine) analyze(ctx context.Context, u unit, log *zap.Logger) (unitResult, error) {
	var res unitResult
	var files []scan.SessionFile
	for _, p := range u.projects {
		files = append(files, p.Files...)
	}

	// phase 1
	sessions := make([]*graph.Session, len(files))
	fresh := make([]*parse.File, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, sf := range files {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in %s: %v", sf.Path, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			var f *parse.File
			if e.opts.Cache != nil {
				if cached, ok := e.opts.Cache.Load(sf.Path, sf.Mtime, sf.Size); ok {
					f = cached
				}
			}
			if f == nil {
				f = parse.ParseFile(sf.Path, e.opts.Parse)
				fresh[i] = f
			}
			sessions[i] = graph.Build(f, sf.Project, sf.Key())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for _, f := range fresh {
		if f == nil {
			res.cached++
			continue
		}
		res.parsed++
		if e.opts.Cache == nil || f.Mtime.IsZero() {
			continue
		}
		if err := e.opts.Cache.Store(f); err != nil {
			log.Warn("cache store failed", zap.String("path", f.Path), zap.Error(err))
		}
	}
	log.Debug("phase 1 done", zap.Int("files", len(files)), zap.Int("parsed", res.parsed), zap.Int("cached", res.cached))

	// phase 2
	ix := graph.NewIndex(sessions)
	var (
		links *link.Result
		side  *sidechain.Result
		snaps map[string]snapshot.Verdict
		sdk   map[string]classify.SDKSignals
	)
	// the passes never cancel each other; only the caller's context stops the unit
	var passes errgroup.Group
	passes.Go(guard("link", func() { links = link.Resolve(ix, u.name) }))
	passes.Go(guard("sidechain", func() { side = sidechain.Associate(ix) }))
	passes.Go(guard("snapshot", func() { snaps = snapshot.Detect(ix, e.opts.Snapshot) }))
	passes.Go(guard("sdk", func() { sdk = classify.PrepareSDK(ix, e.opts.Classify.SDK) }))
	if err := passes.Wait(); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	log.Debug("phase 2 done",
		zap.Int("links", len(links.Links)),
		zap.Int("chains", len(links.Chains)),
		zap.Int("groups", len(side.Groups)),
		zap.Int("snapshots", len(snaps)))

	// phase 3
	results := make([]classify.Result, len(ix.Sessions))
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, s := range ix.Sessions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in := classify.Input{
				Session:             s,
				Link:                links.Links[s.Key],
				HasSuccessor:        links.HasSuccessor(s.Key),
				Owned:               side.ByOwner[s.Key],
				SidechainConfidence: side.Confidence(s.Key),
				SDK:                 sdk[s.Key],
			}
			if v, ok := snaps[s.Key]; ok {
				in.Snapshot = &v
			}
			results[i] = e.classifier.Classify(in)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	b := builder{
		ix: ix, links: links, side: side, snaps: snaps, sdk: sdk,
		results: results, files: files, todoDirs: e.opts.TodoDirs, log: log,
	}
	res.manifests = b.manifests(u)
	res.paths = make(map[string]string, len(files))
	for _, f := range files {
		res.paths[f.Key()] = f.Path
	}
	return res, nil
}

// guard turns a panic inside a phase-2 pass into an error.
func guard(name string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s pass panicked: %v", name, r)
			}
		}()
		fn()
		return nil
	}
}

// lockedCache serializes a cache that is not safe for concurrent use.
type lockedCache struct {
	mu sync.Mutex
	c  Cache
}

// Serialized wraps c so that every call holds one lock.
func Serialized(c Cache) Cache {
	return &lockedCache{c: c}
}

func (l *lockedCache) Load(path string, mtime, size int64) (*parse.File, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Load(path, mtime, size)
}

func (l *lockedCache) Store(f *parse.File) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.c.Store(f)
}
