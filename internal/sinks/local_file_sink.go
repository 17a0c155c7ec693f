package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/internal/config"
	"github.com/mdzesseis/eventnorm/internal/metrics"
	"github.com/mdzesseis/eventnorm/pkg/types"
)

// LocalFileSink is the raw side-sink the demuxer forwards events to
// when a raw event carries no sourceType, or an unrecognized one: one
// newline-delimited-JSON file per UTC day under the configured
// directory.
type LocalFileSink struct {
	config config.LocalFileSinkConfig
	logger *logrus.Logger

	mu          sync.Mutex
	currentDay  string
	currentFile *os.File

	runningMutex sync.RWMutex
	isRunning    bool
}

func NewLocalFileSink(cfg config.LocalFileSinkConfig, logger *logrus.Logger) *LocalFileSink {
	return &LocalFileSink{config: cfg, logger: logger}
}

func (lfs *LocalFileSink) Start(context.Context) error {
	if !lfs.config.Enabled {
		lfs.logger.Info("local file sink disabled")
		return nil
	}
	if err := os.MkdirAll(lfs.config.Directory, 0o755); err != nil {
		return fmt.Errorf("local file sink: create directory: %w", err)
	}
	lfs.runningMutex.Lock()
	lfs.isRunning = true
	lfs.runningMutex.Unlock()
	return nil
}

func (lfs *LocalFileSink) Stop() error {
	lfs.runningMutex.Lock()
	lfs.isRunning = false
	lfs.runningMutex.Unlock()

	lfs.mu.Lock()
	defer lfs.mu.Unlock()
	if lfs.currentFile != nil {
		err := lfs.currentFile.Close()
		lfs.currentFile = nil
		return err
	}
	return nil
}

func (lfs *LocalFileSink) Send(ctx context.Context, events []types.Event) error {
	if !lfs.config.Enabled {
		return nil
	}
	for _, e := range events {
		if err := lfs.writeEvent(e); err != nil {
			metrics.RecordSinkSend("local_file", false)
			return err
		}
	}
	metrics.RecordSinkSend("local_file", true)
	return nil
}

func (lfs *LocalFileSink) writeEvent(e types.Event) error {
	lfs.mu.Lock()
	defer lfs.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if lfs.currentFile == nil || lfs.currentDay != day {
		if lfs.currentFile != nil {
			lfs.currentFile.Close()
		}
		path := filepath.Join(lfs.config.Directory, fmt.Sprintf("raw-%s.jsonl", day))
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("local file sink: open %s: %w", path, err)
		}
		lfs.currentFile = f
		lfs.currentDay = day
	}

	line, err := json.Marshal(e.Data())
	if err != nil {
		return fmt.Errorf("local file sink: marshal event: %w", err)
	}
	line = append(line, '\n')
	_, err = lfs.currentFile.Write(line)
	return err
}

func (lfs *LocalFileSink) IsHealthy() bool {
	lfs.runningMutex.RLock()
	defer lfs.runningMutex.RUnlock()
	return lfs.isRunning || !lfs.config.Enabled
}
