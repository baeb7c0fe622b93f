// Package assets loads compiled shaders and reloads them when they change on
// disk.
package assets

import (
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/vkharness/engine/core"
)

type Library struct {
	dir     string
	loader  Loader
	shaders map[string]*Shader

	mutex sync.RWMutex

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	stopped  chan struct{}
	isClosed bool
}

type Option func(*Library)

// WithLoader replaces the SPIR-V loader.
func WithLoader(loader Loader) Option {
	return func(l *Library) {
		l.loader = loader
	}
}

func NewLibrary(dir string, opts ...Option) *Library {
	l := &Library{
		dir:     dir,
		loader:  SPIRVLoader{},
		shaders: make(map[string]*Shader),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Library) Dir() string {
	return l.dir
}

// Load returns the cached shader, reading it on first use. Generations start
// at 1.
func (l *Library) Load(name string) (*Shader, error) {
	l.mutex.RLock()
	s, ok := l.shaders[name]
	l.mutex.RUnlock()
	if ok {
		return s, nil
	}

	s, err := l.loader.Load(filepath.Join(l.dir, name))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load shader %s", name)
	}
	s.Name = name

	l.mutex.Lock()
	defer l.mutex.Unlock()
	// another goroutine may have won the race
	if cur, ok := l.shaders[name]; ok {
		return cur, nil
	}
	s.Generation = 1
	l.shaders[name] = s
	core.LogDebug("shader %s loaded (%d bytes)", name, len(s.Code))
	return s, nil
}

func (l *Library) Get(name string) (*Shader, bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	s, ok := l.shaders[name]
	return s, ok
}

// Generation is zero for a shader that was never loaded.
func (l *Library) Generation(name string) uint64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if s, ok := l.shaders[name]; ok {
		return s.Generation
	}
	return 0
}

// Reload rereads a loaded shader. It reports whether the contents changed; a
// changed shader gets the next generation and EVENT_CODE_SHADER_RELOADED is
// fired. On error the previous shader stays current.
func (l *Library) Reload(name string) (bool, error) {
	l.mutex.RLock()
	cur, ok := l.shaders[name]
	l.mutex.RUnlock()
	if !ok {
		return false, errors.Newf("shader %s was never loaded", name)
	}

	s, err := l.loader.Load(filepath.Join(l.dir, name))
	if err != nil {
		return false, errors.Wrapf(err, "failed to reload shader %s", name)
	}
	if s.Checksum == cur.Checksum {
		return false, nil
	}
	s.Name = name

	l.mutex.Lock()
	s.Generation = l.shaders[name].Generation + 1
	l.shaders[name] = s
	l.mutex.Unlock()

	core.LogInfo("shader %s reloaded (generation %d)", name, s.Generation)
	core.EventFire(core.EventContext{Type: core.EVENT_CODE_SHADER_RELOADED, Data: name})
	return true, nil
}

// Watch starts reloading loaded shaders when their files are written. It is
// a no-op when already watching.
func (l *Library) Watch() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.isClosed {
		return errors.New("shader library already closed")
	}
	if l.fsnotify != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create shader watcher")
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return errors.Wrapf(err, "failed to watch %s", l.dir)
	}
	l.fsnotify = w
	l.done = make(chan struct{})
	l.stopped = make(chan struct{})
	go l.start(w, l.done, l.stopped)
	core.LogInfo("watching %s for shader changes", l.dir)
	return nil
}

func (l *Library) start(w *fsnotify.Watcher, done, stopped chan struct{}) {
	defer close(stopped)
	for {
		select {
		case e, ok := <-w.Events:
			if !ok {
				return
			}
			l.handleFileEvent(e)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			core.LogError("shader watcher: %s", err.Error())

		case <-done:
			return
		}
	}
}

func (l *Library) handleFileEvent(e fsnotify.Event) {
	if !isShader(e.Name) {
		return
	}
	name := shaderName(e.Name)
	if _, ok := l.Get(name); !ok {
		return
	}
	switch {
	case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
		// a compiler writing the file in pieces produces partial reads; the
		// next write event retries
		if _, err := l.Reload(name); err != nil {
			core.LogWarn("%v", err)
		}
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		core.LogWarn("shader %s was removed; keeping generation %d", name, l.Generation(name))
	}
}

func (l *Library) Close() error {
	l.mutex.Lock()
	if l.isClosed {
		l.mutex.Unlock()
		return nil
	}
	l.isClosed = true
	w, done, stopped := l.fsnotify, l.done, l.stopped
	l.mutex.Unlock()

	if w == nil {
		return nil
	}
	close(done)
	<-stopped
	return w.Close()
}
