package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/docuchat/internal/api"
	"github.com/cloo-solutions/docuchat/internal/domain"
	"github.com/cloo-solutions/docuchat/internal/service"
	"github.com/go-chi/chi/v5"
)

// TrainEnqueuer hands an ingestion request to the background runner.
type TrainEnqueuer interface {
	Enqueue(req service.IngestRequest) error
}

type TrainHandler struct {
	runner TrainEnqueuer
}

// NewTrainHandler creates a new TrainHandler instance
func NewTrainHandler(runner TrainEnqueuer) *TrainHandler {
	return &TrainHandler{runner: runner}
}

type TrainRequest struct {
	Title         string `json:"title"`
	Text          string `json:"text"`
	ObjectKey     string `json:"object_key"`
	Mode          string `json:"mode"`
	EmbeddingType string `json:"embedding_type"`
	UploadType    string `json:"upload_type"`
	ChunkLimit    int    `json:"chunk_limit"`
}

type TrainResponse struct {
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

// Train accepts a document for ingestion and returns 202; the pipeline runs
// in the background. The body is either multipart form data with a file, or
// JSON with inline text or an object key of an already-uploaded file.
func (h *TrainHandler) Train(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		api.Error(w, http.StatusBadRequest, "slug is required")
		return
	}

	var req service.IngestRequest
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err = parseMultipartTrain(r)
	} else {
		req, err = parseJSONTrain(r)
	}
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Slug = slug

	if err := h.runner.Enqueue(req); err != nil {
		if errors.Is(err, domain.ErrIngestionInProgress) {
			api.Error(w, http.StatusConflict, err.Error())
			return
		}
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusAccepted, TrainResponse{Slug: slug, Status: "queued"})
}

func parseMultipartTrain(r *http.Request) (service.IngestRequest, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return service.IngestRequest{}, errors.New("invalid multipart body")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return service.IngestRequest{}, errors.New("file is required")
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		return service.IngestRequest{}, errors.New("failed to read file")
	}

	uploadType := domain.UploadType(r.FormValue("upload_type"))
	if uploadType == "" {
		uploadType = uploadTypeForFilename(header.Filename)
	}

	return buildIngestRequest(TrainRequest{
		Title:         r.FormValue("title"),
		Mode:          r.FormValue("mode"),
		EmbeddingType: r.FormValue("embedding_type"),
		UploadType:    string(uploadType),
	}, payload, header.Filename)
}

func parseJSONTrain(r *http.Request) (service.IngestRequest, error) {
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return service.IngestRequest{}, errors.New("invalid request body")
	}

	if req.Text == "" && req.ObjectKey == "" {
		return service.IngestRequest{}, errors.New("either text or object_key is required")
	}
	if req.Text != "" && req.ObjectKey == "" && req.UploadType == "" {
		req.UploadType = string(domain.UploadTypeText)
	}
	if req.ObjectKey != "" && req.UploadType == "" {
		req.UploadType = string(uploadTypeForFilename(req.ObjectKey))
	}

	ingest, err := buildIngestRequest(req, []byte(req.Text), "")
	if err != nil {
		return service.IngestRequest{}, err
	}
	ingest.ObjectKey = req.ObjectKey
	if req.ObjectKey != "" {
		ingest.Payload = nil
	}
	ingest.ChunkLimit = req.ChunkLimit
	return ingest, nil
}

func buildIngestRequest(req TrainRequest, payload []byte, filename string) (service.IngestRequest, error) {
	mode := domain.RetrainMode(req.Mode)
	if mode == "" {
		mode = domain.RetrainModeReplace
	}
	if !domain.IsValidRetrainMode(mode) {
		return service.IngestRequest{}, errors.New("invalid mode")
	}

	embeddingType := domain.EmbeddingType(req.EmbeddingType)
	if embeddingType == "" {
		embeddingType = domain.EmbeddingTypeSmall
	}
	if !domain.IsValidEmbeddingType(embeddingType) {
		return service.IngestRequest{}, errors.New("invalid embedding type")
	}

	uploadType := domain.UploadType(req.UploadType)
	if !domain.IsValidUploadType(uploadType) {
		return service.IngestRequest{}, errors.New("invalid upload type")
	}

	return service.IngestRequest{
		Title:         req.Title,
		UploadType:    uploadType,
		Mode:          mode,
		EmbeddingType: embeddingType,
		Payload:       payload,
		Filename:      filename,
	}, nil
}

func uploadTypeForFilename(name string) domain.UploadType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return domain.UploadTypePDF
	case ".mp3", ".wav", ".m4a", ".ogg":
		return domain.UploadTypeAudio
	default:
		return domain.UploadTypeText
	}
}
