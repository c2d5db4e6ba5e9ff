package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CyCoreSystems/audiosocket"
	"github.com/amanullahtanweer/segscribe/internal/assemble"
	"github.com/amanullahtanweer/segscribe/internal/engine"
	"github.com/amanullahtanweer/segscribe/internal/media"
	"github.com/google/uuid"
)

// Transcriber runs the segmented transcription of a recorded call.
type Transcriber interface {
	Transcribe(ctx context.Context, req engine.Request) (string, error)
}

type Config struct {
	Host            string
	Port            int
	SampleRate      int
	Backend         string
	Language        string
	Format          string
	MaxWorkers      int
	RecordDir       string // where call audio is staged before transcription
	OutputDir       string
	SaveTranscripts bool
	SaveAudio       bool

	RemoveRepetitions bool
}

// Server accepts AudioSocket connections, records each call and hands the
// recording to the transcription engine when the call hangs up.
type Server struct {
	config   Config
	engine   Transcriber
	logger   *slog.Logger
	listener net.Listener
	wg       sync.WaitGroup
	shutdown chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// Call is one AudioSocket connection being recorded.
type Call struct {
	id        uuid.UUID
	server    *Server
	audio     []byte
	markers   []string
	startTime time.Time
	logger    *slog.Logger
}

func New(config Config, eng Transcriber, logger *slog.Logger) (*Server, error) {
	if config.SampleRate == 0 {
		config.SampleRate = 8000
	}
	if config.RecordDir == "" {
		config.RecordDir = filepath.Join(os.TempDir(), "segscribe-calls")
	}
	if err := os.MkdirAll(config.RecordDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	if (config.SaveTranscripts || config.SaveAudio) && config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		engine:   eng,
		logger:   logger,
		shutdown: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.listener = l
	s.logger.Info("AudioSocket server listening", "addr", l.Addr().String(), "backend", s.config.Backend)

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				s.logger.Warn("accept error", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop closes the listener and waits for in-flight calls to finish
// transcribing. ctx bounds the wait; when it expires running jobs are
// cancelled.
func (s *Server) Stop(ctx context.Context) {
	close(s.shutdown)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.cancel()
		<-done
	}
	s.cancel()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	s.logger.Info("new connection", "remote", conn.RemoteAddr().String())

	id, err := audiosocket.GetID(conn)
	if err != nil {
		s.logger.Warn("failed to get ID", "error", err)
		return
	}

	call := &Call{
		id:        id,
		server:    s,
		audio:     make([]byte, 0, 16000), // ~1 second of 8 kHz slin
		startTime: time.Now(),
		logger:    s.logger.With("call", id.String()[:8]),
	}
	call.logger.Info("call started")

	for {
		msg, err := audiosocket.NextMessage(conn)
		if err != nil {
			if err != io.EOF {
				call.logger.Warn("failed to read message", "error", err)
			}
			break
		}

		if err := call.handleMessage(msg); err != nil {
			call.logger.Warn("error handling message", "error", err)
			break
		}

		if msg.Kind() == audiosocket.KindHangup {
			call.logger.Info("received hangup")
			break
		}
	}

	call.finalize()
	call.logger.Info("call ended", "duration", time.Since(call.startTime))
}

func (call *Call) handleMessage(msg audiosocket.Message) error {
	switch msg.Kind() {
	case audiosocket.KindSlin:
		call.audio = append(call.audio, msg.Payload()...)

	case audiosocket.KindDTMF:
		if len(msg.Payload()) > 0 {
			digit := msg.Payload()[0]
			call.logger.Info("DTMF digit", "digit", string(digit))
			call.markers = append(call.markers, fmt.Sprintf("[DTMF: %c @ %s]", digit, call.offset()))
		}

	case audiosocket.KindSilence:
		call.logger.Debug("silence detected")

	case audiosocket.KindError:
		return fmt.Errorf("received error code: %d", msg.ErrorCode())
	}
	return nil
}

// offset is the recorded audio length so far.
func (call *Call) offset() time.Duration {
	bytesPerSec := call.server.config.SampleRate * 2
	return time.Duration(len(call.audio)) * time.Second / time.Duration(bytesPerSec)
}

func (call *Call) name() string {
	return fmt.Sprintf("%s_%s", call.startTime.Format("20060102_150405"), call.id.String()[:8])
}

func (call *Call) finalize() {
	cfg := call.server.config
	if len(call.audio) == 0 {
		call.logger.Info("no audio received, nothing to transcribe")
		return
	}

	recording := filepath.Join(cfg.RecordDir, call.name()+".wav")
	if cfg.SaveAudio && cfg.OutputDir != "" {
		recording = filepath.Join(cfg.OutputDir, call.name()+".wav")
	}
	if err := media.WriteWAV(recording, slinSamples(call.audio), cfg.SampleRate); err != nil {
		call.logger.Error("failed to write recording", "error", err)
		return
	}
	if !cfg.SaveAudio {
		defer os.Remove(recording)
	} else {
		call.logger.Info("audio saved", "path", recording, "seconds", call.offset().Seconds())
	}

	transcript, err := call.server.engine.Transcribe(call.server.ctx, engine.Request{
		SourcePath:        recording,
		MaxWorkers:        cfg.MaxWorkers,
		Format:            cfg.Format,
		Backend:           cfg.Backend,
		Language:          cfg.Language,
		RemoveRepetitions: cfg.RemoveRepetitions,
		JobID:             call.id.String(),
	})
	if err != nil {
		call.logger.Error("transcription failed", "error", err)
		return
	}
	call.logger.Info("call transcribed", "chars", len(transcript))

	if !cfg.SaveTranscripts || transcript == "" {
		return
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "default"
	}
	metadata := fmt.Sprintf("Call ID: %s\nBackend: %s\nStart Time: %s\nDuration: %v\nSample Rate: %dHz\n",
		call.id,
		backend,
		call.startTime.Format("2006-01-02 15:04:05"),
		call.offset(),
		cfg.SampleRate,
	)
	if len(call.markers) > 0 {
		metadata += "Markers: " + strings.Join(call.markers, " ") + "\n"
	}

	format, err := assemble.ParseFormat(cfg.Format)
	if err != nil {
		format = assemble.Plain
	}
	filename := filepath.Join(cfg.OutputDir, fmt.Sprintf("%s_%s_%s%s",
		call.startTime.Format("20060102_150405"), backend, call.id.String()[:8], format.Ext()))
	// SRT readers reject anything before the first block
	content := transcript
	if format == assemble.Plain {
		content = metadata + "\n---TRANSCRIPT---\n\n" + transcript
	}
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		call.logger.Error("failed to save transcript", "error", err)
		return
	}
	call.logger.Info("transcript saved", "path", filename)
}

// slinSamples decodes signed linear 16-bit little-endian audio.
func slinSamples(b []byte) []int {
	out := make([]int, len(b)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(b[i*2:])))
	}
	return out
}
