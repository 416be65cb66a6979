package handler

import (
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/middleware"
	"crowdcounter/internal/service"
)

const multipartMemory = 32 << 20

var (
	imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".bmp": true}
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true}
)

// resultURL is the public path of an artifact.
func resultURL(name string) string {
	return "/results/" + name
}

// ImageUploadHandler handles POST /api/image with a multipart "image" file and
// optional threshold and x1,y1,x2,y2 fields.
func ImageUploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		path, name, err := receiveUpload(w, r, manager, cfg, "image", imageExtensions)
		if err != nil {
			writeUploadError(w, logger, err)
			return
		}
		defer manager.Store().RemoveUpload(path)

		req, err := formRequest(r, cfg)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		req.Source = path
		req.Name = name

		result, err := manager.AnalyzeImage(r.Context(), req)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result_image": resultURL(result.Artifact),
			"people_count": result.Count,
		})
	}
}

// VideoUploadHandler handles POST /api/video with a multipart "video" file and
// a method field of full (default) or single.
func VideoUploadHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		path, name, err := receiveUpload(w, r, manager, cfg, "video", videoExtensions)
		if err != nil {
			writeUploadError(w, logger, err)
			return
		}
		defer manager.Store().RemoveUpload(path)

		req, err := formRequest(r, cfg)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		method, err := dto.ParseMethod(r.FormValue("method"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		req.Source = path
		req.Name = name
		req.Method = method

		outcome, err := manager.AnalyzeVideo(r.Context(), req)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		switch outcome.Method {
		case dto.MethodSingle:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"result_image": resultURL(outcome.Single.Artifact),
				"people_count": outcome.Single.Count,
				"frame_index":  outcome.Single.FrameIndex,
			})
		default:
			full := outcome.Full
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"result_video":   resultURL(full.Artifact),
				"people_count":   full.Peak,
				"peak_frame":     full.PeakFrame,
				"frame_counts":   full.FrameCounts,
				"sampled_frames": full.SampledFrames,
				"total_frames":   full.TotalFrames,
				"stride":         full.Stride,
				"truncated":      full.Truncated,
				"mean":           full.Mean(),
				"median":         full.Median(),
				"sum":            full.Sum(),
			})
		}
	}
}

// analyzeFrameRequest is the JSON body of POST /api/analyze_frame.
type analyzeFrameRequest struct {
	Image     string      `json:"image"`
	X1        flexNumber  `json:"x1"`
	Y1        flexNumber  `json:"y1"`
	X2        flexNumber  `json:"x2"`
	Y2        flexNumber  `json:"y2"`
	Threshold *flexNumber `json:"threshold"`
}

// AnalyzeFrameHandler handles POST /api/analyze_frame: a base64 data URL frame
// plus a region drawn in the viewer. Malformed payloads are rejected before any
// inference.
func AnalyzeFrameHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		limit := cfg.MaxUploadSizeMB << 20
		if r.ContentLength > limit {
			writeUploadError(w, logger, &http.MaxBytesError{Limit: limit})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		var body analyzeFrameRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeUploadError(w, logger, err)
				return
			}
			writeError(w, logger, errs.Validation("malformed payload: %v", err))
			return
		}

		region, err := body.region()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		threshold := cfg.ConfidenceThreshold
		if body.Threshold != nil && body.Threshold.set {
			threshold = body.Threshold.value
		}
		if strings.TrimSpace(body.Image) == "" {
			writeError(w, logger, errs.Validation("image is required"))
			return
		}

		user, _ := middleware.UserFromContext(r.Context())
		result, err := manager.AnalyzeEncodedFrame(r.Context(), body.Image, region, threshold, user)
		if err != nil {
			writeError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"result_image": resultURL(result.Artifact),
			"people_count": result.Count,
		})
	}
}

func (b analyzeFrameRequest) region() (dto.Region, error) {
	coords := []struct {
		name string
		n    flexNumber
	}{{"x1", b.X1}, {"y1", b.Y1}, {"x2", b.X2}, {"y2", b.Y2}}

	values := make([]int, len(coords))
	for i, c := range coords {
		if !c.n.set {
			return dto.Region{}, errs.Validation("%s is required", c.name)
		}
		v, err := roundCoordinate(c.n.value)
		if err != nil {
			return dto.Region{}, errs.Validation("%s: %v", c.name, err)
		}
		values[i] = v
	}
	return dto.Region{X1: values[0], Y1: values[1], X2: values[2], Y2: values[3]}, nil
}

// flexNumber accepts a JSON number or a numeric string.
type flexNumber struct {
	value float64
	set   bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}

	var v float64
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := parseNumber(s)
		if err != nil {
			return err
		}
		v = parsed
	} else if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	n.value = v
	n.set = true
	return nil
}

func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, errs.Validation("%q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errs.Validation("%q is not a finite number", s)
	}
	return v, nil
}

// roundCoordinate rounds to the nearest pixel.
func roundCoordinate(v float64) (int, error) {
	r := math.Round(v)
	if math.Abs(r) > math.MaxInt32 {
		return 0, errors.New("coordinate out of range")
	}
	return int(r), nil
}

// formRequest reads the optional threshold and region form fields.
func formRequest(r *http.Request, cfg *config.Config) (dto.AnalysisRequest, error) {
	req := dto.AnalysisRequest{Threshold: cfg.ConfidenceThreshold}
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		req.User = user
	}

	if v := r.FormValue("threshold"); v != "" {
		t, err := parseNumber(v)
		if err != nil {
			return req, err
		}
		req.Threshold = t
	}

	fields := []string{"x1", "y1", "x2", "y2"}
	values := make([]int, len(fields))
	present := 0
	for i, f := range fields {
		raw := r.FormValue(f)
		if raw == "" {
			continue
		}
		present++
		v, err := parseNumber(raw)
		if err != nil {
			return req, err
		}
		if values[i], err = roundCoordinate(v); err != nil {
			return req, errs.Validation("%s: %v", f, err)
		}
	}
	switch present {
	case 0:
	case len(fields):
		req.Region = &dto.Region{X1: values[0], Y1: values[1], X2: values[2], Y2: values[3]}
	default:
		return req, errs.Validation("region needs all of x1, y1, x2, y2")
	}
	return req, nil
}

// receiveUpload stages the multipart file under field and returns its path and
// the client filename.
func receiveUpload(w http.ResponseWriter, r *http.Request, manager *service.Manager, cfg *config.Config,
	field string, allowed map[string]bool) (string, string, error) {
	limit := cfg.MaxUploadSizeMB << 20
	if r.ContentLength > limit {
		return "", "", &http.MaxBytesError{Limit: limit}
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return "", "", err
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", "", errs.Validation("no %s file uploaded", field)
		}
		return "", "", errs.Validation("read %s: %v", field, err)
	}
	defer file.Close()

	if err := checkExtension(header, allowed); err != nil {
		return "", "", err
	}

	path, err := manager.Store().SaveUpload(file, header.Filename)
	if err != nil {
		return "", "", err
	}
	return path, header.Filename, nil
}

func checkExtension(header *multipart.FileHeader, allowed map[string]bool) error {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowed[ext] {
		return errs.Validation("unsupported file type %q", ext)
	}
	return nil
}

func writeUploadError(w http.ResponseWriter, logger *logger.Logger, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "upload too large"})
		return
	}
	if errs.HTTPStatus(err) >= http.StatusInternalServerError && !errors.Is(err, errs.ErrIO) {
		err = errs.Validation("malformed upload: %v", err)
	}
	writeError(w, logger, err)
}
