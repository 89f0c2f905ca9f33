package terminals

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
)

const multipartMemory = 8 << 20

// readUpload pulls a single file part out of a multipart request, bounded by
// maxBytes. The declared content type is kept as a hint only.
func readUpload(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (imageprep.File, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartMemory)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return imageprep.File{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("upload exceeds %d bytes", maxBytes))
		}
		return imageprep.File{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request must be multipart form data")
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	f, header, err := r.FormFile(field)
	if err != nil {
		return imageprep.File{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("form field %q with a file is required", field))
	}
	defer f.Close()

	var src io.Reader = f
	if maxBytes > 0 {
		src = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return imageprep.File{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read upload")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return imageprep.File{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("upload exceeds %d bytes", maxBytes))
	}
	if len(data) == 0 {
		return imageprep.File{}, pkgerrors.New(pkgerrors.CodeValidation, "uploaded file is empty")
	}
	return imageprep.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
