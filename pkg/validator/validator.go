package validator

import (
	"strings"

	"github.com/shravzzv/chatly/internal/domain"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

const (
	maxTextLen = 4000
	maxFileLen = 25 << 20 // 25 MiB
)

var allowedMimePrefixes = []string{"image/", "video/", "audio/", "application/", "text/"}

// ValidateSend checks a send input before it reaches the store. Exactly one
// of text or file must be present.
func ValidateSend(text string, file *domain.File) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" && file == nil {
		errs.Add("message", "Message must have text or a file")
		return errs
	}
	if text != "" && file != nil {
		errs.Add("message", "Message cannot have both text and a file")
	}

	if len(text) > maxTextLen {
		errs.Add("text", "Message is too long")
	}

	if file != nil {
		validateFile(file, errs)
	}

	return errs
}

func ValidateEdit(text string) ValidationErrors {
	errs := make(ValidationErrors)

	text = strings.TrimSpace(text)
	if text == "" {
		errs.Add("text", "Text is required")
	} else if len(text) > maxTextLen {
		errs.Add("text", "Message is too long")
	}

	return errs
}

func validateFile(file *domain.File, errs ValidationErrors) {
	if strings.TrimSpace(file.Name) == "" {
		errs.Add("file", "File name is required")
	}
	if file.Size <= 0 {
		errs.Add("file", "File is empty")
	} else if file.Size > maxFileLen {
		errs.Add("file", "File is too large")
	}

	ok := false
	for _, prefix := range allowedMimePrefixes {
		if strings.HasPrefix(file.ContentType, prefix) {
			ok = true
			break
		}
	}
	if !ok {
		errs.Add("file", "Unsupported file type")
	}
}
