package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/papergraph-backend/internal/agents"
	"github.com/yungbote/papergraph-backend/internal/agents/prompts"
	"github.com/yungbote/papergraph-backend/internal/cache"
	"github.com/yungbote/papergraph-backend/internal/content"
	"github.com/yungbote/papergraph-backend/internal/data/repos"
	"github.com/yungbote/papergraph-backend/internal/domain"
	"github.com/yungbote/papergraph-backend/internal/extraction"
	"github.com/yungbote/papergraph-backend/internal/observability"
	"github.com/yungbote/papergraph-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/papergraph-backend/internal/pkg/errors"
	"github.com/yungbote/papergraph-backend/internal/platform/gcs"
	"github.com/yungbote/papergraph-backend/internal/platform/logger"
	"github.com/yungbote/papergraph-backend/internal/platform/redisbus"
	"github.com/yungbote/papergraph-backend/internal/resolve"
)

// Stage names, in execution order. The ingest_run row records the furthest
// stage reached; re-running a partial paper resumes through the same stages
// idempotently.
const (
	StageIngestion     = "ingestion"
	StageEntities      = "entity_extraction"
	StageRelationships = "relationship_extraction"
	StageValidation    = "validation"
	StageResolve       = "resolve"
	StagePersistEdges  = "persist_edges"
)

const (
	maxSections        = 12
	maxSectionChars    = 1200
	maxEntitiesTotal   = 10
	maxEntitiesPerSec  = 4
	maxMetricEntities  = 2
	maxRelationships   = 12
	paperNodeKeyPrefix = "paper:"
)

// PaperInput is everything the per-paper pipeline needs up front. FullText
// may be empty for metadata-only papers; extraction stages then work from
// the abstract alone.
type PaperInput struct {
	ID          string
	Title       string
	Abstract    string
	Year        int
	ExternalIDs map[string]string
	FullText    string
}

// Options tunes one pipeline invocation.
type Options struct {
	RunID uuid.UUID
	Force bool
}

// Stats summarizes what one paper contributed.
type Stats struct {
	Sections         int    `json:"sections"`
	Entities         int    `json:"entities"`
	EntitiesResolved int    `json:"entities_resolved"`
	Edges            int    `json:"edges"`
	EdgesPersisted   int    `json:"edges_persisted"`
	DegradationMode  string `json:"degradation_mode,omitempty"`
	Skipped          bool   `json:"skipped,omitempty"`
}

// Result is the outcome of one run_pipeline call.
type Result struct {
	PaperID string
	Success bool
	Stats   Stats
	Err     error
}

// GraphMirror is the optional external graph projection, refreshed after
// writes. Implementations must tolerate concurrent refreshes.
type GraphMirror interface {
	Refresh(ctx context.Context) error
}

// Orchestrator runs the per-paper stage sequence. Stages are sequential per
// paper; distinct papers may run concurrently because every persistence
// operation is an idempotent upsert or an insert scoped to this paper.
type Orchestrator struct {
	log       *logger.Logger
	repos     *repos.Set
	runner    *agents.Runner
	validator *extraction.Validator
	resolver  *resolve.Resolver
	derived   *cache.DerivedCache
	archive   gcs.Archive
	bus       redisbus.Bus
	mirror    GraphMirror
	metrics   *observability.Metrics
	force     bool
}

var tracer = otel.Tracer("papergraph/pipeline")

func NewOrchestrator(
	log *logger.Logger,
	reposet *repos.Set,
	runner *agents.Runner,
	validator *extraction.Validator,
	resolver *resolve.Resolver,
	derived *cache.DerivedCache,
	archive gcs.Archive,
	bus redisbus.Bus,
	mirror GraphMirror,
	metrics *observability.Metrics,
) (*Orchestrator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reposet == nil || runner == nil || validator == nil || resolver == nil {
		return nil, fmt.Errorf("repos, runner, validator, and resolver required")
	}
	force, _ := strconv.ParseBool(os.Getenv("FORCE_REINGEST"))
	return &Orchestrator{
		log:       log.With("service", "PipelineOrchestrator"),
		repos:     reposet,
		runner:    runner,
		validator: validator,
		resolver:  resolver,
		derived:   derived,
		archive:   archive,
		bus:       bus,
		mirror:    mirror,
		metrics:   metrics,
		force:     force,
	}, nil
}

// paperNodeKey is the canonical key of a paper's graph node. Paper nodes
// merge on exact paper id only, so the key is the id itself.
func paperNodeKey(paperID string) string {
	return paperNodeKeyPrefix + paperID
}

// RunPipeline runs every stage for one paper. A failure records the stage
// and error kind on the ingest_run row and leaves earlier side effects in
// place; re-running completes the remainder.
func (o *Orchestrator) RunPipeline(ctx context.Context, in PaperInput, opts Options) *Result {
	res := &Result{PaperID: in.ID}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.Title) == "" {
		res.Err = fmt.Errorf("paper id and title required")
		return res
	}
	runID := opts.RunID
	if runID == uuid.Nil {
		runID = uuid.New()
	}
	force := opts.Force || o.force

	ctx, span := tracer.Start(ctx, "pipeline.run_paper", trace.WithAttributes(
		attribute.String("paper_id", in.ID),
		attribute.String("run_id", runID.String()),
	))
	defer span.End()
	dbc := dbctx.Context{Ctx: ctx}
	log := o.log.With("paper_id", in.ID, "run_id", runID.String())

	// Incremental mode: a stored paper short-circuits unless forced.
	if !force {
		existing, err := o.repos.Papers.GetExistingIDs(dbc, []string{in.ID})
		if err != nil {
			res.Err = err
			return res
		}
		if existing[in.ID] {
			res.Success = true
			res.Stats.Skipped = true
			o.record(dbc, runID, in.ID, StageIngestion, domain.IngestSkipped, nil, res.Stats)
			o.countPaper(domain.IngestSkipped)
			log.Info("paper already ingested, skipping")
			return res
		}
	}

	fail := func(stage string, err error) *Result {
		res.Err = err
		o.record(dbc, runID, in.ID, stage, domain.IngestPartial, err, res.Stats)
		o.countPaper(domain.IngestPartial)
		log.Error("pipeline stage failed", "stage", stage, "error", err)
		return res
	}

	// Stage 1: ingestion. Paper row first so every later artifact has a
	// referent, then full text archival, then section segmentation.
	o.record(dbc, runID, in.ID, StageIngestion, domain.IngestRunning, nil, res.Stats)
	stageStart := time.Now()
	if err := o.upsertPaper(dbc, in); err != nil {
		res.Err = err
		o.record(dbc, runID, in.ID, StageIngestion, domain.IngestFailed, err, res.Stats)
		o.countPaper(domain.IngestFailed)
		return res
	}
	o.archiveFulltext(ctx, dbc, in, log)

	sections, err := o.extractSections(ctx, in)
	if err != nil {
		return fail(StageIngestion, err)
	}
	sectionRows, err := o.persistSections(dbc, in.ID, sections)
	if err != nil {
		return fail(StageIngestion, err)
	}
	res.Stats.Sections = len(sectionRows)
	o.observeStage(StageIngestion, stageStart)

	// Stage 2: entity extraction.
	o.record(dbc, runID, in.ID, StageEntities, domain.IngestRunning, nil, res.Stats)
	stageStart = time.Now()
	sectionsJSON, err := json.Marshal(sections)
	if err != nil {
		return fail(StageEntities, err)
	}
	entOut, err := o.extractEntities(ctx, in, string(sectionsJSON))
	if err != nil {
		return fail(StageEntities, err)
	}
	res.Stats.Entities = len(entOut.Entities)
	o.observeStage(StageEntities, stageStart)

	// Stage 3: relationship extraction, with progressive degradation.
	o.record(dbc, runID, in.ID, StageRelationships, domain.IngestRunning, nil, res.Stats)
	stageStart = time.Now()
	relOut, mode, err := o.extractRelationships(ctx, in, string(sectionsJSON), entOut.Entities)
	if err != nil {
		return fail(StageRelationships, err)
	}
	res.Stats.Edges = len(relOut.Relationships)
	res.Stats.DegradationMode = mode
	o.observeStage(StageRelationships, stageStart)

	// Stage 4: deterministic validation.
	o.record(dbc, runID, in.ID, StageValidation, domain.IngestRunning, nil, res.Stats)
	stageStart = time.Now()
	validated := o.validator.Validate(entOut.Entities, relOut.Relationships, sectionRows)
	o.countValidation(validated)
	o.observeStage(StageValidation, stageStart)

	// Stage 5: canonicalize + resolve, plus the paper's own graph node.
	o.record(dbc, runID, in.ID, StageResolve, domain.IngestRunning, nil, res.Stats)
	stageStart = time.Now()
	if _, err := o.ensurePaperNode(dbc, in); err != nil {
		return fail(StageResolve, err)
	}
	endpointByName, resolved, err := o.resolveEntities(ctx, dbc, in.ID, validated.Entities)
	if err != nil {
		return fail(StageResolve, err)
	}
	res.Stats.EntitiesResolved = resolved
	o.observeStage(StageResolve, stageStart)

	// Stage 6: persist edges, endpoints rewritten through approved links.
	o.record(dbc, runID, in.ID, StagePersistEdges, domain.IngestRunning, nil, res.Stats)
	stageStart = time.Now()
	persisted, err := o.persistEdges(dbc, in.ID, validated.Edges, endpointByName)
	if err != nil {
		return fail(StagePersistEdges, err)
	}
	res.Stats.EdgesPersisted = persisted
	o.observeStage(StagePersistEdges, stageStart)

	o.refreshMirror(ctx, log)

	res.Success = true
	o.record(dbc, runID, in.ID, StagePersistEdges, domain.IngestSucceeded, nil, res.Stats)
	o.countPaper(domain.IngestSucceeded)
	if o.metrics != nil {
		o.metrics.EdgesPersisted.Add(float64(persisted))
	}
	log.Info("paper ingested",
		"sections", res.Stats.Sections,
		"entities", res.Stats.Entities,
		"resolved", res.Stats.EntitiesResolved,
		"edges_persisted", res.Stats.EdgesPersisted,
		"mode", res.Stats.DegradationMode,
	)
	return res
}

func (o *Orchestrator) countPaper(status string) {
	if o.metrics != nil {
		o.metrics.PapersProcessed.Inc(status)
	}
}

func (o *Orchestrator) observeStage(stage string, started time.Time) {
	if o.metrics != nil {
		o.metrics.StageLatency.Observe(time.Since(started).Seconds(), stage)
	}
}

func (o *Orchestrator) countCache(layer, artifactType, outcome string) {
	if o.metrics != nil {
		o.metrics.CacheOps.Inc(layer, artifactType, outcome)
	}
}

func (o *Orchestrator) countValidation(res extraction.ValidationResult) {
	if o.metrics == nil {
		return
	}
	for _, e := range res.Entities {
		for _, d := range e.Decisions {
			o.metrics.ValidationDecisions.Inc("entity", d.Rule)
		}
	}
	for _, e := range res.Edges {
		for _, d := range e.Decisions {
			o.metrics.ValidationDecisions.Inc("edge", d.Rule)
		}
	}
}

// record writes the ingest_run row and publishes a run event. Both are
// best-effort: bookkeeping never fails a paper.
func (o *Orchestrator) record(dbc dbctx.Context, runID uuid.UUID, paperID, stage, status string, cause error, stats Stats) {
	if o.metrics != nil {
		o.metrics.StageOutcomes.Inc(stage, status)
	}
	row := &domain.IngestRun{
		RunID:   runID,
		PaperID: paperID,
		Stage:   stage,
		Status:  status,
	}
	detail := ""
	if cause != nil {
		row.ErrorKind = string(pkgerrors.KindOf(cause))
		row.ErrorMessage = cause.Error()
		detail = cause.Error()
	}
	if raw, err := json.Marshal(stats); err == nil {
		row.Stats = datatypes.JSON(raw)
	}
	if err := o.repos.IngestRuns.Upsert(dbc, row); err != nil {
		o.log.Warn("ingest run record failed", "paper_id", paperID, "stage", stage, "error", err)
	}
	redisbus.PublishSafe(dbc.Ctx, o.bus, o.log, redisbus.RunEvent{
		RunID:   runID.String(),
		PaperID: paperID,
		Stage:   stage,
		Status:  status,
		Detail:  detail,
		Fields: map[string]any{
			"sections":        stats.Sections,
			"entities":        stats.Entities,
			"edges_persisted": stats.EdgesPersisted,
		},
	})
}

func (o *Orchestrator) upsertPaper(dbc dbctx.Context, in PaperInput) error {
	row := &domain.Paper{
		ID:       in.ID,
		Title:    in.Title,
		Abstract: in.Abstract,
		Year:     in.Year,
	}
	if len(in.ExternalIDs) > 0 {
		raw, err := json.Marshal(in.ExternalIDs)
		if err != nil {
			return err
		}
		row.ExternalIDs = datatypes.JSON(raw)
	}
	return o.repos.Papers.Upsert(dbc, row)
}

// archiveFulltext stores the raw full text in the bucket when one is
// configured. Failure only warns; the text is re-fetchable.
func (o *Orchestrator) archiveFulltext(ctx context.Context, dbc dbctx.Context, in PaperInput, log *logger.Logger) {
	if o.archive == nil || strings.TrimSpace(in.FullText) == "" {
		return
	}
	path, err := o.archive.PutFulltext(ctx, in.ID, in.FullText)
	if err != nil {
		log.Warn("fulltext archive failed", "error", err)
		return
	}
	if err := o.repos.Papers.UpdateFields(dbc, in.ID, map[string]interface{}{"fulltext_path": path}); err != nil {
		log.Warn("fulltext path update failed", "error", err)
	}
}

func (o *Orchestrator) extractSections(ctx context.Context, in PaperInput) ([]agents.ExtractedSection, error) {
	text := in.FullText
	if strings.TrimSpace(text) == "" {
		text = in.Abstract
	}
	input := prompts.Input{
		PaperID:         in.ID,
		PaperTitle:      in.Title,
		FullText:        text,
		MaxSections:     maxSections,
		MaxSectionChars: maxSectionChars,
	}

	var out agents.SectionExtractOutput
	key, ok := o.derivedKey(prompts.PromptSectionExtract, "sections", content.HashString(text))
	if ok && o.derivedGet("sections", key, &out) {
		return clampSections(out.Sections), nil
	}
	out, _, err := o.runner.ExtractSections(ctx, input)
	if err != nil {
		return nil, err
	}
	out.Sections = clampSections(out.Sections)
	if ok {
		o.derivedPut("sections", key, out)
	}
	return out.Sections, nil
}

// clampSections enforces the segmentation limits regardless of what the
// model returned: at most 12 sections, 1200 chars each, unknown types
// mapped to "other", part indexes reassigned per type.
func clampSections(sections []agents.ExtractedSection) []agents.ExtractedSection {
	if len(sections) > maxSections {
		sections = sections[:maxSections]
	}
	partsByType := map[string]int{}
	out := make([]agents.ExtractedSection, 0, len(sections))
	for _, s := range sections {
		if strings.TrimSpace(s.Content) == "" {
			continue
		}
		if !domain.ValidSectionType(s.SectionType) {
			s.SectionType = domain.SectionOther
		}
		if len(s.Content) > maxSectionChars {
			s.Content = s.Content[:maxSectionChars]
		}
		s.PartIndex = partsByType[s.SectionType]
		partsByType[s.SectionType]++
		out = append(out, s)
	}
	return out
}

// persistSections replaces the paper's stored sections. Delete-then-insert
// keeps re-runs idempotent.
func (o *Orchestrator) persistSections(dbc dbctx.Context, paperID string, sections []agents.ExtractedSection) ([]*domain.Section, error) {
	if err := o.repos.Sections.DeleteByPaperID(dbc, paperID); err != nil {
		return nil, err
	}
	rows := make([]*domain.Section, 0, len(sections))
	for _, s := range sections {
		rows = append(rows, &domain.Section{
			PaperID:     paperID,
			SectionType: s.SectionType,
			PartIndex:   s.PartIndex,
			Content:     s.Content,
			WordCount:   len(strings.Fields(s.Content)),
		})
	}
	return o.repos.Sections.Insert(dbc, rows)
}

func (o *Orchestrator) extractEntities(ctx context.Context, in PaperInput, sectionsJSON string) (agents.EntityExtractOutput, error) {
	input := prompts.Input{
		PaperID:           in.ID,
		PaperTitle:        in.Title,
		SectionsJSON:      sectionsJSON,
		MaxEntities:       maxEntitiesTotal,
		MaxEntitiesPerSec: maxEntitiesPerSec,
		MaxMetricEntities: maxMetricEntities,
	}

	var out agents.EntityExtractOutput
	key, ok := o.derivedKey(prompts.PromptEntityExtract, "entities", content.HashString(sectionsJSON))
	if ok && o.derivedGet("entities", key, &out) {
		return out, nil
	}
	out, _, err := o.runner.ExtractEntities(ctx, input)
	if err != nil {
		return agents.EntityExtractOutput{}, err
	}
	if ok {
		o.derivedPut("entities", key, out)
	}
	return out, nil
}

// relationshipArtifact wraps the extraction output with the mode that
// produced it, so L2 hits report degradation accurately.
type relationshipArtifact struct {
	Relationships []agents.ExtractedRelationship `json:"relationships"`
	Mode          string                         `json:"mode"`
}

func (o *Orchestrator) extractRelationships(ctx context.Context, in PaperInput, sectionsJSON string, entities []agents.ExtractedEntity) (agents.RelationshipExtractOutput, string, error) {
	type knownNode struct {
		Name string `json:"name"`
		Type string `json:"type"`
	}
	known := make([]knownNode, 0, len(entities))
	for _, e := range entities {
		known = append(known, knownNode{Name: e.Name, Type: e.Type})
	}
	knownJSON, err := json.Marshal(known)
	if err != nil {
		return agents.RelationshipExtractOutput{}, "", err
	}

	var art relationshipArtifact
	key, ok := o.derivedKey(prompts.PromptRelationshipExtract, "relationship_candidates",
		content.HashString(sectionsJSON), content.HashString(string(knownJSON)))
	if ok && o.derivedGet("relationship_candidates", key, &art) {
		return agents.RelationshipExtractOutput{Relationships: art.Relationships}, art.Mode, nil
	}

	input := prompts.Input{
		PaperID:          in.ID,
		PaperTitle:       in.Title,
		SectionsJSON:     sectionsJSON,
		KnownNodesJSON:   string(knownJSON),
		MaxRelationships: maxRelationships,
		MaxEvidenceChars: domain.MaxEvidenceChars,
	}
	out, meta, err := o.runner.ExtractRelationships(ctx, input)
	if err != nil {
		return agents.RelationshipExtractOutput{}, "", err
	}
	mode := string(agents.ModeNormal)
	if meta != nil {
		mode = string(meta.Mode)
	}
	if ok {
		o.derivedPut("relationship_candidates", key, relationshipArtifact{Relationships: out.Relationships, Mode: mode})
	}
	return out, mode, nil
}

// ensurePaperNode creates the Paper-typed graph node keyed by exact paper
// id, the seed reasoning batches expand from.
func (o *Orchestrator) ensurePaperNode(dbc dbctx.Context, in PaperInput) (int64, error) {
	key := paperNodeKey(in.ID)
	existing, err := o.repos.Nodes.FindByCanonicalKeys(dbc, []string{key}, domain.NodePaper)
	if err != nil {
		return 0, err
	}
	if n, ok := existing[key]; ok {
		return n.ID, nil
	}
	id, err := o.repos.Nodes.Insert(dbc, &domain.Node{
		Type:               domain.NodePaper,
		CanonicalName:      in.Title,
		CanonicalKey:       key,
		OriginalConfidence: 1,
		AdjustedConfidence: 1,
		ReviewStatus:       domain.ReviewApproved,
	})
	if err == nil && o.metrics != nil {
		o.metrics.NodesPersisted.Inc()
	}
	return id, err
}

// resolveEntities runs two-tier resolution for every surviving entity and
// attaches mentions. The returned map gives edge persistence its endpoint
// ids, already rewritten through approved alias links.
func (o *Orchestrator) resolveEntities(ctx context.Context, dbc dbctx.Context, paperID string, entities []extraction.ValidatedEntity) (map[string]int64, int, error) {
	endpointByName := make(map[string]int64, len(entities))
	var mentions []*domain.EntityMention
	resolved := 0

	for _, ent := range entities {
		if ent.ReviewStatus == domain.ReviewRejected {
			continue
		}
		r, err := o.resolver.ResolveEntity(ctx, dbc, ent)
		if err != nil {
			return nil, 0, err
		}
		resolved++
		if r.Created && o.metrics != nil {
			o.metrics.NodesPersisted.Inc()
		}

		endpoint := r.NodeID
		if r.LinkStatus == domain.LinkApproved && r.CanonicalNodeID != 0 {
			endpoint = r.CanonicalNodeID
		}
		endpointByName[nameKey(ent.Name)] = endpoint

		sectionType := ent.SectionType
		if !domain.ValidSectionType(sectionType) {
			sectionType = domain.SectionOther
		}
		mentions = append(mentions, &domain.EntityMention{
			NodeID:       r.NodeID,
			PaperID:      paperID,
			SectionType:  sectionType,
			MentionCount: 1,
		})
	}

	if err := o.repos.Mentions.Insert(dbc, mentions); err != nil {
		return nil, 0, err
	}
	return endpointByName, resolved, nil
}

// persistEdges inserts validated edges with endpoints mapped to resolved
// node ids. Edges whose endpoints vanished during resolution are dropped,
// as are edges that became self-edges after alias rewriting.
func (o *Orchestrator) persistEdges(dbc dbctx.Context, paperID string, edges []extraction.ValidatedEdge, endpointByName map[string]int64) (int, error) {
	persisted := 0
	for _, e := range edges {
		if e.ReviewStatus == domain.ReviewRejected {
			continue
		}
		src, okSrc := endpointByName[nameKey(e.Source)]
		tgt, okTgt := endpointByName[nameKey(e.Target)]
		if !okSrc || !okTgt || src == tgt {
			continue
		}
		row := &domain.Edge{
			SourceNodeID:     src,
			TargetNodeID:     tgt,
			RelationshipType: e.RelationshipType,
			Confidence:       e.AdjustedConfidence,
			Evidence:         e.Evidence,
			PaperID:          paperID,
			SectionType:      e.SectionType,
			CharStart:        e.CharStart,
			CharEnd:          e.CharEnd,
			ReviewStatus:     e.ReviewStatus,
		}
		if _, err := o.repos.Edges.Insert(dbc, row); err != nil {
			return persisted, err
		}
		persisted++
	}
	return persisted, nil
}

func (o *Orchestrator) refreshMirror(ctx context.Context, log *logger.Logger) {
	if o.mirror == nil {
		return
	}
	if err := o.mirror.Refresh(ctx); err != nil {
		log.Warn("graph mirror refresh failed", "error", err)
	}
}

func nameKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// derivedKey builds the L2 key for an artifact type; ok is false when the
// prompt is unregistered or the derived cache is absent.
func (o *Orchestrator) derivedKey(prompt prompts.PromptName, artifactType string, sourceHashes ...string) (string, bool) {
	if o.derived == nil {
		return "", false
	}
	promptVer, schemaVer, ok := prompts.Version(prompt)
	if !ok {
		return "", false
	}
	return cache.DerivedKey(artifactType, sourceHashes, schemaVer, promptVer), true
}

func (o *Orchestrator) derivedGet(artifactType, key string, out any) bool {
	if o.derived == nil {
		return false
	}
	if o.derived.Get(artifactType, key, out) {
		o.countCache("l2", artifactType, "hit")
		return true
	}
	o.countCache("l2", artifactType, "miss")
	return false
}

func (o *Orchestrator) derivedPut(artifactType, key string, v any) {
	if o.derived == nil {
		return
	}
	if err := o.derived.Put(artifactType, key, v); err != nil {
		o.log.Warn("derived cache write failed", "type", artifactType, "error", err)
	}
}
