package app

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mdzesseis/eventnorm/pkg/types"
)

// ingestReader feeds the demuxer's upstream BoundedQueue from a stream
// of newline-delimited JSON objects, one per raw event (each carrying
// at minimum sourceType/tenant/rawEvent). Concrete collection
// transports (syslog listeners, HTTP collectors, file tailing) live
// upstream of this process; this is the minimal entrypoint needed to
// drive the pipeline end to end.
type ingestReader struct {
	source io.ReadCloser
	queue  *types.BoundedQueue
	logger *logrus.Logger
	done   chan struct{}
}

// openIngestReader opens path for reading, or stdin if path is empty.
func openIngestReader(path string, queue *types.BoundedQueue, logger *logrus.Logger) (*ingestReader, error) {
	var rc io.ReadCloser
	if path == "" {
		rc = io.NopCloser(os.Stdin)
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		rc = f
	}
	return &ingestReader{source: rc, queue: queue, logger: logger, done: make(chan struct{})}, nil
}

// Start reads lines until EOF or the source is closed, then puts
// types.EOS on the queue so the demuxer's Transformer exits cleanly.
func (r *ingestReader) Start() {
	go r.run()
}

func (r *ingestReader) run() {
	defer close(r.done)
	defer r.queue.Put(types.EOS)

	scanner := bufio.NewScanner(r.source)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tree types.Tree
		if err := json.Unmarshal(line, &tree); err != nil {
			if r.logger != nil {
				r.logger.WithError(err).Warn("ingest: skipping unparseable line")
			}
			continue
		}
		if !r.queue.Put(types.NewEvent(tree)) {
			return
		}
	}
	if err := scanner.Err(); err != nil && r.logger != nil {
		r.logger.WithError(err).Warn("ingest: reader stopped with error")
	}
}

func (r *ingestReader) Stop() error {
	err := r.source.Close()
	<-r.done
	return err
}
