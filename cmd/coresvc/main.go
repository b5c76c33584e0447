// Command coresvc runs the control plane's core services: the Ingest
// Sidecar manager, Liveness Monitor, Alarm Evaluation Engine, Replication
// Ticker, and Analysis Job Runtime, all sharing one Postgres-backed bus
// and store set.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldops/controlplane/internal/alarmengine"
	"github.com/fieldops/controlplane/internal/analysis"
	"github.com/fieldops/controlplane/internal/bus"
	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
	"github.com/fieldops/controlplane/internal/domain/analysisjob"
	"github.com/fieldops/controlplane/internal/ingest"
	"github.com/fieldops/controlplane/internal/lake"
	"github.com/fieldops/controlplane/internal/liveness"
	"github.com/fieldops/controlplane/internal/platform/clock"
	"github.com/fieldops/controlplane/internal/platform/config"
	"github.com/fieldops/controlplane/internal/platform/logging"
	"github.com/fieldops/controlplane/internal/platform/metrics"
	"github.com/fieldops/controlplane/internal/replication"
	"github.com/fieldops/controlplane/internal/store"
	"github.com/fieldops/controlplane/internal/vectorindex"
)

func main() {
	httpAddr := flag.String("addr", ":8080", "HTTP listen address for health and metrics")
	configPath := flag.String("config", "", "Path to a JSON settings overlay")
	flag.Parse()

	settings, err := config.LoadFromEnv().LoadFile(*configPath)
	if err != nil {
		log.Fatalf("coresvc: load config: %v", err)
	}

	logger := logging.New("coresvc", settings.LogLevel, settings.LogFormat)
	metrics.Init("coresvc")

	if settings.DatabaseURL == "" {
		log.Fatal("coresvc: CORE_DATABASE_URL (or DATABASE_URL) is required")
	}

	db, err := store.Open(settings.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("coresvc: open store: %v", err)
	}
	defer db.Close()

	msgBus, err := bus.Open(settings.DatabaseURL, logger)
	if err != nil {
		log.Fatalf("coresvc: open bus: %v", err)
	}
	defer msgBus.Close()

	metricStore := store.NewMetricStore(db)
	jobStore := store.NewJobStore(db)
	jobStore.SetMaxJobsPerUser(settings.AnalysisMaxJobsPerUser)
	alarmStore := store.NewAlarmStore(db)
	sensorStore := store.NewSensorStore(db)

	clk := clock.Real{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := seedRuleEnvelopes(ctx, alarmStore, settings.RuleEnvelopeDir); err != nil {
		logger.WithContext(ctx).WithFields(map[string]any{"err": err.Error()}).Warn("coresvc: rule envelope fixture seeding failed")
	}

	// Ingest Sidecar: one goroutine per active sensor's bus partition,
	// feeding a shared batched writer.
	deadLetterAppender, err := ingest.NewFileAppender(settings.DevActivityPath + "/ingest-dead-letter.ndjson")
	if err != nil {
		log.Fatalf("coresvc: open dead-letter log: %v", err)
	}
	defer deadLetterAppender.Close()
	deadLetterSink := ingest.NewFileDeadLetterSink(deadLetterAppender)

	livenessState := ingest.NewLivenessState()
	var sidecarManager *ingest.Manager
	batchWriter := ingest.NewBatchWriter(metricStore, deadLetterSink, logger, settings.IngestBatchSize, settings.IngestFlushEvery, settings.ForwarderMaxRetry, func(partition string, offset int64) {
		if sidecarManager == nil {
			return
		}
		_ = sidecarManager.Ack(ctx, partition, offset)
	})
	go batchWriter.Run(ctx)

	sidecarManager = ingest.NewManager(msgBus, sensorStore, batchWriter, livenessState, logger, settings.COVTolerance, 200*time.Millisecond, 30*time.Second)
	go sidecarManager.Run(ctx)

	// Liveness Monitor: sweeps sensors/nodes for silence and records
	// synthetic liveness alarm events.
	livenessMonitor := liveness.NewMonitor(sensorStore, alarmStore, livenessState, clk, logger, settings.LivenessSweepInterval)
	go livenessMonitor.Run(ctx)

	// Alarm Evaluation Engine.
	history := alarmengine.NewBucketHistory(64)
	evaluator := alarmengine.NewEvaluator(metricStore, livenessState, history)
	alarmEngine := alarmengine.NewEngine(alarmStore, sensorStore, evaluator, clk, logger, settings.AlarmTickInterval)
	go alarmEngine.Run(ctx)

	// Lake + Replication Ticker.
	manifests := lake.NewManifestStore(settings.LakeHotPath, logger)
	replState := lake.NewReplicationStateStore(settings.LakeHotPath)
	lakeWriter := lake.NewWriter(settings.LakeHotPath, settings.LakeShards)
	ticker := replication.New(metricStore, lakeWriter, manifests, replState, clk, logger, replication.Config{
		Dataset:      "metrics/v1",
		TickInterval: settings.ReplicationTickInterval,
		LagSeconds:   30,
	})
	go ticker.Run(ctx)

	// Analysis Job Runtime.
	runtime := analysis.NewRuntime(jobStore, logger, 4, settings.AnalysisPollInterval, settings.AnalysisLeaseTTL)
	runtime.Register(analysisjob.JobLakeReplicationTick, analysis.LakeReplicationTickExecutor(ticker))
	runtime.Register(analysisjob.JobLakeInspectV1, analysis.LakeInspectExecutor(settings.LakeHotPath, settings.LakeColdPath, manifests))
	runtime.Register(analysisjob.JobLakeBackfillV1, analysis.LakeBackfillExecutor(metricStore, lakeWriter, time.Now))

	if settings.QdrantAddr != "" {
		vecIndex, err := vectorindex.Open(ctx, vectorindex.Config{
			Addr:           settings.QdrantAddr,
			CollectionName: "sensor_embeddings_v1",
			VectorSize:     32,
		}, logger)
		if err != nil {
			logger.WithContext(ctx).Warn("coresvc: vector index unavailable, embeddings jobs will fail with no executor registered")
		} else {
			defer vecIndex.Close()
			runtime.Register(analysisjob.JobEmbeddingsBuildV1, analysis.EmbeddingsBuildExecutor(metricStore, vecIndex, 3600))
		}
	}
	runtime.RegisterLifecycleStubs()
	go runtime.Run(ctx)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithContext(ctx).WithFields(map[string]any{"err": err.Error()}).Error("coresvc: http server exited")
		}
	}()

	<-ctx.Done()
	logger.WithContext(context.Background()).Info("coresvc: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	os.Exit(0)
}

// seedRuleEnvelopes upserts every rule fixture found in dir, so an
// operator can check alarm rules into version control instead of hand-
// writing rows. Rules already present are overwritten, not duplicated,
// since UpsertAlarm is keyed by rule id.
func seedRuleEnvelopes(ctx context.Context, alarms *store.AlarmStore, dir string) error {
	fixtures, err := alarmdomain.LoadEnvelopeFixtures(dir)
	if err != nil {
		return err
	}
	for _, fixture := range fixtures {
		envelope, err := json.Marshal(fixture.Envelope)
		if err != nil {
			return fmt.Errorf("coresvc: marshal envelope for rule %s: %w", fixture.RuleID, err)
		}
		if _, err := alarms.UpsertAlarm(ctx, fixture.RuleID, envelope, fixture.Enabled); err != nil {
			return fmt.Errorf("coresvc: upsert rule %s: %w", fixture.RuleID, err)
		}
	}
	return nil
}
