package api

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cuemby/behemoth/pkg/types"
)

// entrySentinel names the primary script inside an uploaded archive so
// the agent knows which member to execute.
const entrySentinel = "entry.bs"

const maxUploadBytes = 64 << 20

type uploadResponse struct {
	ExecutionID string `json:"execution_id"`
	CommandID   string `json:"command_id"`
	Path        string `json:"path"`
}

// handleUploadCommandFile stores an uploaded command file and creates the
// file-category execution that will ship it to the agent. Archives are
// repackaged with an entry sentinel; plain text gets separator and BOM
// normalization.
func (s *Server) handleUploadCommandFile(w http.ResponseWriter, r *http.Request) {
	plan, err := s.store.GetPlan(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	if isZip(data) {
		if data, err = normalizeArchive(data); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		data = normalizeText(data)
	}

	blobPath, err := s.saveUploadBlob(plan.ID, header.Filename, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	execution := &types.Execution{
		ID:        uuid.New().String(),
		OrgID:     plan.OrgID,
		PlanID:    plan.ID,
		Name:      header.Filename,
		Category:  types.CategoryFile,
		Status:    types.StatusNotStart,
		AssetID:   plan.AssetID,
		AccountID: plan.AccountID,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateExecution(execution); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	commandID, err := s.cmds.Append(r.Context(), &types.Command{
		OrgID:       plan.OrgID,
		ExecutionID: execution.ID,
		Input:       blobPath,
		Status:      types.CommandNotStart,
	})
	if err != nil {
		s.store.DeleteExecution(execution.ID)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ExecutionID: execution.ID,
		CommandID:   commandID,
		Path:        blobPath,
	})
}

// saveUploadBlob writes the upload under the plan's blob directory with a
// timestamped name and returns the absolute path.
func (s *Server) saveUploadBlob(planID, filename string, data []byte) (string, error) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filepath.Base(filename), ext)
	name := fmt.Sprintf("%s_%d%s", base, time.Now().Unix(), ext)

	dir := filepath.Join(s.cfg.DataDir, "behemoth", "upload", planID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to store upload: %w", err)
	}
	return path, nil
}

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

func isZip(data []byte) bool {
	return bytes.HasPrefix(data, zipMagic)
}

// normalizeArchive ensures the archive carries the entry sentinel. When it
// is missing the archive is repackaged with a sentinel naming the first
// script member.
func normalizeArchive(data []byte) ([]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("invalid zip archive: %w", err)
	}

	primary := ""
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if filepath.Base(f.Name) == entrySentinel {
			return data, nil
		}
		if primary == "" {
			primary = f.Name
		}
	}
	if primary == "" {
		return nil, fmt.Errorf("zip archive has no files")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range reader.File {
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		dst, err := zw.Create(f.Name)
		if err != nil {
			rc.Close()
			return nil, err
		}
		if _, err := io.Copy(dst, rc); err != nil {
			rc.Close()
			return nil, err
		}
		rc.Close()
	}
	sentinel, err := zw.Create(entrySentinel)
	if err != nil {
		return nil, err
	}
	if _, err := sentinel.Write([]byte(primary)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// normalizeText strips a UTF-8 BOM and converts CRLF line endings.
func normalizeText(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
}
