package signals

import (
	"strings"

	"repo-sentinel/internal/model"
)

// popularPackages are widely-installed names per ecosystem. A dependency
// lexically close to one of these but not equal to it is a typosquat
// candidate.
var popularPackages = map[string][]string{
	EcosystemNPM: {
		"react", "lodash", "express", "axios", "chalk", "commander",
		"webpack", "typescript", "eslint", "moment", "dotenv", "uuid",
		"mongoose", "jquery", "request", "async", "debug", "prettier",
		"node-fetch", "socket.io", "cross-env", "left-pad",
	},
	EcosystemPyPI: {
		"requests", "numpy", "pandas", "flask", "django", "pytest",
		"setuptools", "urllib3", "boto3", "pillow", "cryptography",
		"matplotlib", "scipy", "sqlalchemy", "pyyaml", "colorama",
		"beautifulsoup4", "tensorflow", "torch", "click",
	},
	EcosystemGo: {
		"github.com/stretchr/testify", "github.com/spf13/cobra",
		"github.com/gorilla/mux", "github.com/gin-gonic/gin",
		"github.com/sirupsen/logrus", "github.com/pkg/errors",
		"github.com/google/uuid", "github.com/rs/zerolog",
		"google.golang.org/grpc", "github.com/prometheus/client_golang",
	},
}

// AssessTyposquat checks a dependency name against the popular-package
// list for its ecosystem. Exact matches are never flagged. A name within
// edit distance 1 of a popular name, or differing only in separator
// characters, is flagged with the similar names attached.
func AssessTyposquat(dep model.DependencyRecord) model.Typosquat {
	candidates := popularPackages[dep.Ecosystem]
	name := normalizeName(dep.Name, dep.Ecosystem)

	var similar []string
	confidence := 0.0
	for _, popular := range candidates {
		p := normalizeName(popular, dep.Ecosystem)
		if name == p {
			// The popular package itself.
			return model.Typosquat{}
		}
		switch {
		case collapseSeparators(name) == collapseSeparators(p):
			similar = append(similar, popular)
			confidence = max(confidence, 0.9)
		case editDistanceAtMostOne(name, p):
			similar = append(similar, popular)
			confidence = max(confidence, 0.75)
		}
	}

	if len(similar) == 0 {
		return model.Typosquat{}
	}
	return model.Typosquat{
		Suspected:  true,
		SimilarTo:  similar,
		Confidence: confidence,
	}
}

func normalizeName(name, ecosystem string) string {
	name = strings.ToLower(name)
	if ecosystem == EcosystemGo {
		// Compare on the final path element: a squat of testify will
		// usually live under a different host or owner.
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
	}
	return name
}

func collapseSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '_' || r == '.' {
			return -1
		}
		return r
	}, s)
}

// editDistanceAtMostOne reports whether a and b differ by at most one
// single-character edit. Cheaper than full Levenshtein and sufficient
// for the distance-1 policy.
func editDistanceAtMostOne(a, b string) bool {
	if a == b {
		return true
	}
	la, lb := len(a), len(b)
	if la > lb {
		a, b, la, lb = b, a, lb, la
	}
	if lb-la > 1 {
		return false
	}
	for i := 0; i < la; i++ {
		if a[i] != b[i] {
			if la == lb {
				return a[i+1:] == b[i+1:] // substitution
			}
			return a[i:] == b[i+1:] // insertion into b
		}
	}
	return true // b has one trailing extra character
}
