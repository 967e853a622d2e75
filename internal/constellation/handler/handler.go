// Package handler exposes the constellation store and the merge engine over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"icstore/internal/constellation/models"
	"icstore/internal/constellation/ports"
	constellation "icstore/internal/constellation/service"
	mergeservice "icstore/internal/merge/service"
	"icstore/internal/platform/middleware"
	dErrors "icstore/pkg/domain-errors"
	"icstore/pkg/platform/httputil"
	"icstore/pkg/requestcontext"
)

const maxImportBytes = 8 << 20

// ConstellationService defines the record store operations served over HTTP.
type ConstellationService interface {
	Create(ctx context.Context, req constellation.CreateRequest) (*models.CommitResult, error)
	Commit(ctx context.Context, req constellation.CommitRequest) (*models.CommitResult, error)
	Checkout(ctx context.Context, icID int64) (*models.CheckoutResult, error)
	SetStatus(ctx context.Context, icID int64, to models.Status, note string) (*models.CommitResult, error)
	Unlock(ctx context.Context, icID int64, note string) (*models.CommitResult, error)
	Resurrect(ctx context.Context, icID int64, note string) (*models.CommitResult, error)
	RevertEntity(ctx context.Context, req constellation.RevertRequest) (*models.CommitResult, error)
	Read(ctx context.Context, icID, version int64) (*models.Constellation, error)
	ReadPublished(ctx context.Context, icID int64) (*models.Constellation, error)
	History(ctx context.Context, icID int64) ([]models.HistoryEntry, error)
	Resolve(ctx context.Context, icID int64) (int64, error)
	ResolveArk(ctx context.Context, ark string) (int64, error)
}

// MergeService defines the merge and duplicate-suggestion operations.
type MergeService interface {
	AutoMerge(ctx context.Context, icIDs []int64, note string) (*models.MergeResult, error)
	ManualMerge(ctx context.Context, req mergeservice.ManualMergeRequest) (*models.MergeResult, error)
	PreviewManualMerge(ctx context.Context, icIDs []int64, edits models.EditSet) (*models.MergePreview, error)
	ProposeMaybeSame(ctx context.Context, a, b int64, note string) (*models.MaybeSame, error)
	SetMaybeSameStatus(ctx context.Context, a, b int64, status models.MaybeSameStatus, note string) (*models.MaybeSame, error)
	ListMaybeSame(ctx context.Context, status models.MaybeSameStatus) ([]models.MaybeSame, error)
	ListMaybeSameFor(ctx context.Context, icID int64) ([]models.MaybeSame, error)
	ReconcileLegacy(ctx context.Context) (*mergeservice.ReconcileResult, error)
}

// Handler wires the constellation and merge endpoints to their services.
type Handler struct {
	constellations ConstellationService
	merges         MergeService
	codec          ports.Codec
	logger         *slog.Logger
}

// New constructs a handler. codec may be nil, which disables import and export.
func New(constellations ConstellationService, merges MergeService, codec ports.Codec, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		constellations: constellations,
		merges:         merges,
		codec:          codec,
		logger:         logger,
	}
}

// Register mounts every endpoint on the router. Administrative routes are
// guarded by middleware.RequireAdmin; authentication is left to the caller.
func (h *Handler) Register(r chi.Router) {
	r.Route("/constellations", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Post("/import", h.HandleImport)
		r.Route("/{icID}", func(r chi.Router) {
			r.Get("/", h.HandleRead)
			r.Get("/published", h.HandleReadPublished)
			r.Get("/history", h.HandleHistory)
			r.Get("/resolve", h.HandleResolve)
			r.Get("/export", h.HandleExport)
			r.Get("/maybe-same", h.HandleListMaybeSameFor)
			r.Post("/checkout", h.HandleCheckout)
			r.Post("/commit", h.HandleCommit)
			r.Post("/status", h.HandleSetStatus)
			r.Post("/entities/{entityID}/revert", h.HandleRevertEntity)
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin(h.logger))
				r.Post("/unlock", h.HandleUnlock)
				r.Post("/resurrect", h.HandleResurrect)
			})
		})
	})
	r.Get("/arks/*", h.HandleResolveArk)

	r.Route("/merges", func(r chi.Router) {
		r.Post("/auto", h.HandleAutoMerge)
		r.Post("/manual", h.HandleManualMerge)
		r.Post("/preview", h.HandlePreviewMerge)
	})

	r.Route("/maybe-same", func(r chi.Router) {
		r.Get("/", h.HandleListMaybeSame)
		r.Post("/", h.HandleProposeMaybeSame)
		r.Put("/{a}/{b}", h.HandleSetMaybeSameStatus)
		r.With(middleware.RequireAdmin(h.logger)).Post("/reconcile", h.HandleReconcile)
	})
}

// decode reads and validates a request body, writing the error response on failure.
func decode[T any, PT interface {
	*T
	validatable
}](w http.ResponseWriter, r *http.Request, h *Handler) (PT, bool) {
	req := PT(new(T))
	if err := httputil.DecodeJSON(r, req); err != nil {
		h.logger.WarnContext(r.Context(), "failed to decode request",
			"request_id", requestcontext.RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		httputil.WriteError(w, err)
		return nil, false
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return nil, false
	}
	return req, true
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.Newf(dErrors.CodeBadRequest, "invalid %s %q", name, raw)
	}
	return v, nil
}

// fail logs a failed service call and writes its error. Client errors are
// logged at warn, everything else at error.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error, attrs ...any) {
	attrs = append(attrs,
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx).ID,
		"error", err,
	)
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

// HandleCreate handles POST /constellations.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[CreateRequest](w, r, h)
	if !ok {
		return
	}
	start := time.Now()
	res, err := h.constellations.Create(ctx, constellation.CreateRequest{
		EntityType: req.EntityType,
		ArkID:      req.ArkID,
		Edits:      models.EditSet{Entities: req.Entities},
		Note:       req.Note,
	})
	if err != nil {
		h.fail(ctx, w, "create constellation failed", err, "entity_type", req.EntityType)
		return
	}
	h.logger.InfoContext(ctx, "constellation created",
		"request_id", requestcontext.RequestID(ctx),
		"ic_id", res.ICID,
		"version", res.Version,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleImport handles POST /constellations/import with a codec document body.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.codec == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "import is not enabled"))
		return
	}
	doc, err := h.codec.Parse(ctx, http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		h.fail(ctx, w, "parse import document failed", err)
		return
	}
	res, err := h.constellations.Create(ctx, constellation.CreateRequest{
		EntityType: doc.EntityType,
		ArkID:      doc.ArkID,
		Edits:      doc.Edits,
		Note:       r.URL.Query().Get("note"),
	})
	if err != nil {
		h.fail(ctx, w, "import constellation failed", err, "ark_id", doc.ArkID)
		return
	}
	h.logger.InfoContext(ctx, "constellation imported",
		"request_id", requestcontext.RequestID(ctx),
		"ic_id", res.ICID,
		"ark_id", doc.ArkID,
	)
	httputil.WriteJSON(w, http.StatusCreated, res)
}

// HandleRead handles GET /constellations/{icID}?version=N.
func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var version int64
	if raw := r.URL.Query().Get("version"); raw != "" {
		version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || version <= 0 {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "invalid version %q", raw))
			return
		}
	}
	snapshot, err := h.constellations.Read(ctx, icID, version)
	if err != nil {
		h.fail(ctx, w, "read constellation failed", err, "ic_id", icID, "version", version)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

// HandleReadPublished handles GET /constellations/{icID}/published.
func (h *Handler) HandleReadPublished(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snapshot, err := h.constellations.ReadPublished(ctx, icID)
	if err != nil {
		h.fail(ctx, w, "read published constellation failed", err, "ic_id", icID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

// HistoryResponse lists the versions of one constellation, oldest first.
type HistoryResponse struct {
	ICID     int64                 `json:"ic_id"`
	Versions []models.HistoryEntry `json:"versions"`
}

// HandleHistory handles GET /constellations/{icID}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.constellations.History(ctx, icID)
	if err != nil {
		h.fail(ctx, w, "read history failed", err, "ic_id", icID)
		return
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{ICID: icID, Versions: entries})
}

// ResolveResponse maps a requested identifier to the live constellation.
type ResolveResponse struct {
	Requested string `json:"requested"`
	ICID      int64  `json:"ic_id"`
}

// HandleResolve handles GET /constellations/{icID}/resolve.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resolved, err := h.constellations.Resolve(ctx, icID)
	if err != nil {
		h.fail(ctx, w, "resolve constellation failed", err, "ic_id", icID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ResolveResponse{Requested: strconv.FormatInt(icID, 10), ICID: resolved})
}

// HandleResolveArk handles GET /arks/{ark...}.
func (h *Handler) HandleResolveArk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ark := chi.URLParam(r, "*")
	if ark == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "ark is required"))
		return
	}
	icID, err := h.constellations.ResolveArk(ctx, ark)
	if err != nil {
		h.fail(ctx, w, "resolve ark failed", err, "ark_id", ark)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ResolveResponse{Requested: ark, ICID: icID})
}

// HandleExport handles GET /constellations/{icID}/export, writing the
// snapshot in the configured codec's form.
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.codec == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "export is not enabled"))
		return
	}
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	snapshot, err := h.constellations.ReadPublished(ctx, icID)
	if err != nil {
		h.fail(ctx, w, "export constellation failed", err, "ic_id", icID)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := h.codec.Serialize(ctx, w, snapshot); err != nil {
		h.logger.ErrorContext(ctx, "serialize export failed",
			"request_id", requestcontext.RequestID(ctx),
			"ic_id", icID,
			"error", err,
		)
	}
}

// HandleCheckout handles POST /constellations/{icID}/checkout.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.constellations.Checkout(ctx, icID)
	if err != nil {
		h.fail(ctx, w, "checkout failed", err, "ic_id", icID)
		return
	}
	h.logger.InfoContext(ctx, "constellation checked out",
		"request_id", requestcontext.RequestID(ctx),
		"ic_id", res.ICID,
		"version", res.Version,
		"lock_holder", res.LockHolder,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleCommit handles POST /constellations/{icID}/commit.
func (h *Handler) HandleCommit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := decode[CommitRequest](w, r, h)
	if !ok {
		return
	}
	start := time.Now()
	res, err := h.constellations.Commit(ctx, constellation.CommitRequest{
		ICID:        icID,
		BaseVersion: req.BaseVersion,
		Edits:       models.EditSet{Entities: req.Entities},
		Note:        req.Note,
	})
	if err != nil {
		h.fail(ctx, w, "commit failed", err, "ic_id", icID, "base_version", req.BaseVersion)
		return
	}
	h.logger.InfoContext(ctx, "constellation committed",
		"request_id", requestcontext.RequestID(ctx),
		"ic_id", res.ICID,
		"version", res.Version,
		"outcome", res.Outcome,
		"changed_rows", res.ChangedRows,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleSetStatus handles POST /constellations/{icID}/status.
func (h *Handler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := decode[StatusRequest](w, r, h)
	if !ok {
		return
	}
	res, err := h.constellations.SetStatus(ctx, icID, req.Status, req.Note)
	if err != nil {
		h.fail(ctx, w, "status change failed", err, "ic_id", icID, "status", req.Status)
		return
	}
	h.logger.InfoContext(ctx, "constellation status changed",
		"request_id", requestcontext.RequestID(ctx),
		"ic_id", res.ICID,
		"version", res.Version,
		"status", req.Status,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleUnlock handles POST /constellations/{icID}/unlock.
func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	h.adminNote(w, r, "unlock", h.constellations.Unlock)
}

// HandleResurrect handles POST /constellations/{icID}/resurrect.
func (h *Handler) HandleResurrect(w http.ResponseWriter, r *http.Request) {
	h.adminNote(w, r, "resurrect", h.constellations.Resurrect)
}

func (h *Handler) adminNote(w http.ResponseWriter, r *http.Request, op string,
	call func(ctx context.Context, icID int64, note string) (*models.CommitResult, error),
) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := decode[NoteRequest](w, r, h)
	if !ok {
		return
	}
	res, err := call(ctx, icID, req.Note)
	if err != nil {
		h.fail(ctx, w, op+" failed", err, "ic_id", icID)
		return
	}
	h.logger.InfoContext(ctx, "administrative "+op+" applied",
		"request_id", requestcontext.RequestID(ctx),
		"actor", requestcontext.Actor(ctx).ID,
		"ic_id", res.ICID,
		"version", res.Version,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleRevertEntity handles POST /constellations/{icID}/entities/{entityID}/revert.
func (h *Handler) HandleRevertEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entityID, err := int64Param(r, "entityID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := decode[RevertRequest](w, r, h)
	if !ok {
		return
	}
	res, err := h.constellations.RevertEntity(ctx, constellation.RevertRequest{
		ICID:      icID,
		EntityID:  entityID,
		ToVersion: req.ToVersion,
		Note:      req.Note,
	})
	if err != nil {
		h.fail(ctx, w, "revert entity failed", err, "ic_id", icID, "entity_id", entityID)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleAutoMerge handles POST /merges/auto.
func (h *Handler) HandleAutoMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[MergeRequest](w, r, h)
	if !ok {
		return
	}
	res, err := h.merges.AutoMerge(ctx, req.ICIDs, req.Note)
	if err != nil {
		h.fail(ctx, w, "automatic merge failed", err, "ic_ids", req.ICIDs)
		return
	}
	h.logMerge(ctx, "automatic", res)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleManualMerge handles POST /merges/manual.
func (h *Handler) HandleManualMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[ManualMergeRequest](w, r, h)
	if !ok {
		return
	}
	res, err := h.merges.ManualMerge(ctx, mergeservice.ManualMergeRequest{
		ICIDs:               req.ICIDs,
		Edits:               models.EditSet{Entities: req.Entities},
		AcknowledgeDiscards: req.AcknowledgeDiscards,
		Note:                req.Note,
	})
	if err != nil {
		h.fail(ctx, w, "manual merge failed", err, "ic_ids", req.ICIDs)
		return
	}
	h.logMerge(ctx, "manual", res)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandlePreviewMerge handles POST /merges/preview. Nothing is written.
func (h *Handler) HandlePreviewMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[ManualMergeRequest](w, r, h)
	if !ok {
		return
	}
	preview, err := h.merges.PreviewManualMerge(ctx, req.ICIDs, models.EditSet{Entities: req.Entities})
	if err != nil {
		h.fail(ctx, w, "merge preview failed", err, "ic_ids", req.ICIDs)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, preview)
}

func (h *Handler) logMerge(ctx context.Context, mode string, res *models.MergeResult) {
	h.logger.InfoContext(ctx, "constellations merged",
		"request_id", requestcontext.RequestID(ctx),
		"mode", mode,
		"survivor_ic_id", res.SurvivorID,
		"version", res.Version,
		"tombstoned", res.Tombstoned,
		"skipped", res.Skipped,
	)
}

// HandleProposeMaybeSame handles POST /maybe-same.
func (h *Handler) HandleProposeMaybeSame(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := decode[ProposeMaybeSameRequest](w, r, h)
	if !ok {
		return
	}
	pair, err := h.merges.ProposeMaybeSame(ctx, req.ICID1, req.ICID2, req.Note)
	if err != nil {
		h.fail(ctx, w, "propose maybe-same failed", err, "ic_id1", req.ICID1, "ic_id2", req.ICID2)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, pair)
}

// HandleSetMaybeSameStatus handles PUT /maybe-same/{a}/{b}.
func (h *Handler) HandleSetMaybeSameStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := int64Param(r, "a")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	b, err := int64Param(r, "b")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := decode[MaybeSameStatusRequest](w, r, h)
	if !ok {
		return
	}
	pair, err := h.merges.SetMaybeSameStatus(ctx, a, b, req.Status, req.Note)
	if err != nil {
		h.fail(ctx, w, "maybe-same vote failed", err, "ic_id1", a, "ic_id2", b)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// MaybeSameListResponse wraps a list of duplicate suggestions.
type MaybeSameListResponse struct {
	Pairs []models.MaybeSame `json:"pairs"`
}

// HandleListMaybeSame handles GET /maybe-same?status=.
func (h *Handler) HandleListMaybeSame(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.MaybeSameStatus(r.URL.Query().Get("status"))
	if status != "" && !status.IsValid() {
		httputil.WriteError(w, &models.ValidationError{Field: "status", Reason: "must be pending, confirmed or rejected"})
		return
	}
	pairs, err := h.merges.ListMaybeSame(ctx, status)
	if err != nil {
		h.fail(ctx, w, "list maybe-same failed", err)
		return
	}
	writePairs(w, pairs)
}

// HandleListMaybeSameFor handles GET /constellations/{icID}/maybe-same.
func (h *Handler) HandleListMaybeSameFor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	icID, err := int64Param(r, "icID")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pairs, err := h.merges.ListMaybeSameFor(ctx, icID)
	if err != nil {
		h.fail(ctx, w, "list maybe-same failed", err, "ic_id", icID)
		return
	}
	writePairs(w, pairs)
}

func writePairs(w http.ResponseWriter, pairs []models.MaybeSame) {
	if pairs == nil {
		pairs = []models.MaybeSame{}
	}
	httputil.WriteJSON(w, http.StatusOK, MaybeSameListResponse{Pairs: pairs})
}

// HandleReconcile handles POST /maybe-same/reconcile.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.merges.ReconcileLegacy(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = dErrors.Wrap(err, dErrors.CodeTimeout, "reconciliation timed out")
		}
		h.fail(ctx, w, "maybe-same reconciliation failed", err)
		return
	}
	h.logger.InfoContext(ctx, "maybe-same reconciled",
		"request_id", requestcontext.RequestID(ctx),
		"migrated", res.Migrated,
		"created", res.Created,
		"merged", res.Merged,
		"invalid", res.Invalid,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}
