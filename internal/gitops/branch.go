package gitops

import (
	"fmt"
	"strings"
)

const maxSlugLen = 48

// BranchName derives a deterministic, git- and filesystem-safe branch name
// from an issue number and title. Same inputs always yield the same name:
// lower-cased, with runs of non-alphanumeric characters collapsed to single
// hyphens.
func BranchName(issueNumber int, title string) string {
	slug := slugify(title)
	if slug == "" {
		return fmt.Sprintf("council/issue-%d", issueNumber)
	}
	return fmt.Sprintf("council/issue-%d-%s", issueNumber, slug)
}

func slugify(s string) string {
	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimSuffix(slug[:maxSlugLen], "-")
	}
	return slug
}

// CloneURL builds the clone URL for a repository, embedding the access token
// when one is available and falling back to the anonymous URL otherwise.
func CloneURL(repoFullName, token string) string {
	if token != "" {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repoFullName)
	}
	return fmt.Sprintf("https://github.com/%s.git", repoFullName)
}
