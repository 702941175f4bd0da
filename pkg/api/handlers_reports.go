package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/ethpandaops/runkeeper/pkg/report"
	"github.com/go-chi/chi/v5"
)

// importReportResponse carries the results that landed when an import
// failed after writing them.
type importReportResponse struct {
	*execution.ReconcileResult
	Error string `json:"error"`
}

// handleImportReport reconciles an uploaded automated test report against
// the project's test cases. The report is either the raw request body or
// the "report" file of a multipart form. ?run_id= targets an existing run;
// otherwise a new AUTOMATION run is created and completed.
func (s *server) handleImportReport(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	runID := r.URL.Query().Get("run_id")

	target := &store.Run{ProjectID: projectID}

	if runID != "" {
		run, err := s.service.GetRun(r.Context(), projectID, runID)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		target = run
	}

	if !s.mayMutate(w, r, target) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxReportBytes)

	body, filename, err := reportBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}
	defer body.Close()

	format, err := reportFormat(r, filename)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	rep, err := report.Parse(body, format)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	result, err := s.service.ImportReport(r.Context(), execution.ImportRequest{
		ProjectID: projectID,
		Report:    *rep,
		RunID:     runID,
		Actor:     actor(r.Context()),
	})
	if err != nil {
		if result == nil {
			s.writeError(w, r, err)

			return
		}

		s.log.WithError(err).
			WithField("run_id", result.Run.ID).
			Warn("Report results recorded but the import did not finish")

		writeJSON(w, statusFor(err), importReportResponse{
			ReconcileResult: result,
			Error:           err.Error(),
		})

		return
	}

	status := http.StatusOK
	if result.RunCreated {
		status = http.StatusCreated
	}

	writeBulk(w, status, result.Err(), result)
}

// reportBody returns the uploaded report and its filename, if known.
func reportBody(r *http.Request) (io.ReadCloser, string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, "", nil
	}

	file, header, err := r.FormFile("report")
	if err != nil {
		return nil, "", fmt.Errorf("reading report file: %w", err)
	}

	return file, header.Filename, nil
}

// reportFormat picks the report format from ?format=, then the uploaded
// filename, then the request content type.
func reportFormat(r *http.Request, filename string) (report.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return report.ParseFormat(f)
	}

	if filename != "" {
		return report.FormatFromFilename(filename)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case strings.HasSuffix(mediaType, "xml"):
		return report.FormatJUnit, nil
	case strings.HasSuffix(mediaType, "json"):
		return report.FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: pass ?format=junit|json", report.ErrUnsupportedFormat)
	}
}
