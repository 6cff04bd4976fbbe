package poolconfig

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/jwalterweatherman"
	"github.com/spf13/pflag"
)

// jww is this package's own internal diagnostics logger, kept separate
// from poollog: it's for the loader talking to itself about where a
// setting came from, not for the pool's request-path logging.
var jww = jwalterweatherman.NewNotepad(jwalterweatherman.LevelWarn, jwalterweatherman.LevelInfo, os.Stdout, ioutil.Discard, "poolconfig", log.Ldate|log.Ltime)

// Loader builds a Config by layering, from lowest to highest precedence:
// built-in defaults, a config file, the environment (including a .env
// file), command-line flags, and finally any explicit Overrides set on
// the Loader itself.
type Loader struct {
	// FilePath is the config file to read: YAML for a .yaml or .yml
	// extension, TOML otherwise. Empty means skip this layer.
	FilePath string
	// DotEnvPath is a .env file to load into the process environment
	// before reading HOSTPOOL_* variables. Empty means skip this layer.
	DotEnvPath string
	// Flags, if set, is consulted for any of this package's flags the
	// caller already parsed.
	Flags *pflag.FlagSet
	// Overrides, if non-nil, wins over every other layer.
	Overrides *Config

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
}

// Load builds a Config from all configured layers.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()
	jww.INFO.Println("starting from built-in defaults")

	if l.FilePath != "" {
		fileCfg, err := loadFile(l.FilePath)
		if err != nil {
			jww.ERROR.Printf("failed to load config file %s: %v", l.FilePath, err)
			return nil, err
		}
		jww.INFO.Printf("layering config file %s", l.FilePath)
		merge(cfg, fileCfg)
	}

	if l.DotEnvPath != "" {
		if err := loadDotEnv(l.DotEnvPath); err != nil {
			jww.WARN.Printf("failed to load .env file %s: %v", l.DotEnvPath, err)
		}
	}
	jww.INFO.Println("layering environment variables")
	merge(cfg, loadEnv())

	if l.Flags != nil {
		jww.INFO.Println("layering command-line flags")
		merge(cfg, flagsToConfig(l.Flags))
	}

	if l.Overrides != nil {
		jww.INFO.Println("layering explicit overrides")
		merge(cfg, l.Overrides)
	}

	return cfg, nil
}

// WatchFile starts watching Loader.FilePath for changes and calls onChange
// with a freshly-reloaded Config (with env/flags/overrides re-layered on
// top) whenever it's written. WatchFile is a no-op if FilePath is empty.
func (l *Loader) WatchFile(onChange func(*Config)) error {
	if l.FilePath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(l.FilePath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	l.mu.Lock()
	l.watcher = w
	l.onChange = onChange
	l.mu.Unlock()

	go l.watchLoop(w)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher) {
	target := filepath.Clean(l.FilePath)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := l.Load()
			if err != nil {
				jww.ERROR.Printf("reload after %s failed: %v", ev, err)
				continue
			}
			jww.INFO.Printf("reloaded config after %s", ev)
			if l.onChange != nil {
				l.onChange(cfg)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			jww.ERROR.Printf("watching config file: %v", err)
		}
	}
}

// StopWatching stops any in-progress WatchFile goroutine.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}
