package kie

import (
	"slices"
	"strconv"
	"strings"
	"unicode"

	"generation-gateway/internal/entity"
)

// MapStatus translates KIE.AI's successFlag codes (0 generating, 1 success,
// 2 create failed, 3 generate failed) and the string states of its newer
// callbacks. String states are split into words and failures are checked
// first. Unknown values map to PENDING.
func MapStatus(v string) entity.JobStatus {
	v = strings.TrimSpace(v)
	if code, err := strconv.Atoi(v); err == nil {
		switch code {
		case 0:
			return entity.StatusProcessing
		case 1:
			return entity.StatusCompleted
		case 2, 3:
			return entity.StatusFailed
		}
		return entity.StatusPending
	}

	words := strings.FieldsFunc(strings.ToLower(v), func(r rune) bool { return !unicode.IsLetter(r) })
	done := hasWord(words, "complete", "success", "succeed")
	switch {
	case hasWord(words, "fail", "error", "unsuccess"):
		return entity.StatusFailed
	case hasWord(words, "incomplete", "uncompleted"), done && slices.Contains(words, "not"):
		return entity.StatusProcessing
	case done:
		return entity.StatusCompleted
	case hasWord(words, "process", "running", "generating"):
		return entity.StatusProcessing
	}
	return entity.StatusPending
}

// hasWord reports whether any word starts with one of the stems.
func hasWord(words []string, stems ...string) bool {
	for _, w := range words {
		for _, s := range stems {
			if strings.HasPrefix(w, s) {
				return true
			}
		}
	}
	return false
}

func progress(s entity.JobStatus) int {
	switch s {
	case entity.StatusProcessing:
		return 50
	case entity.StatusCompleted:
		return 100
	}
	return 0
}
