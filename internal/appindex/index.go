// File: internal/appindex/index.go
//
// Name-to-launch-command resolution for LaunchApp. The installed-application
// listing is expensive to enumerate, so it is loaded lazily through a
// read-through cache and invalidated only on explicit Refresh. The cache is
// an owned object passed to its consumers, never package-level state.
package appindex

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sourcer enumerates installed applications as name -> launch command.
type Sourcer interface {
	List(ctx context.Context) (map[string]string, error)
}

// aliases maps common spoken names straight to launch commands, ahead of the
// enumerated index. Includes the German names the agent is asked for in
// practice.
var aliases = map[string]string{
	"settings":       "ms-settings:",
	"einstellungen":  "ms-settings:",
	"calc":           "calc.exe",
	"calculator":     "calc.exe",
	"rechner":        "calc.exe",
	"terminal":       "wt.exe",
	"cmd":            "cmd.exe",
	"powershell":     "powershell.exe",
	"explorer":       "explorer.exe",
	"datei":          "explorer.exe",
	"notepad":        "notepad.exe",
	"editor":         "notepad.exe",
	"browser":        "msedge.exe",
	"edge":           "msedge.exe",
	"chrome":         "chrome.exe",
	"firefox":        "firefox.exe",
	"code":           "code",
	"vscode":         "code",
	"task manager":   "taskmgr.exe",
	"control panel":  "control.exe",
	"snipping tool":  "snippingtool.exe",
	"spotify":        "spotify",
}

// Index is the read-through cache over a Sourcer.
type Index struct {
	sourcer Sourcer
	logger  *zap.Logger

	group singleflight.Group
	mu    sync.RWMutex
	apps  map[string]string
}

// New builds an index over the given sourcer. Nothing is enumerated until
// the first Resolve/Suggest call.
func New(sourcer Sourcer, logger *zap.Logger) *Index {
	return &Index{sourcer: sourcer, logger: logger.Named("app_index")}
}

// snapshot returns the cached app map, enumerating on first use. Concurrent
// first calls share one enumeration. A failed enumeration caches an empty
// map; aliases still resolve.
func (i *Index) snapshot(ctx context.Context) map[string]string {
	i.mu.RLock()
	apps := i.apps
	i.mu.RUnlock()
	if apps != nil {
		return apps
	}

	v, _, _ := i.group.Do("load", func() (any, error) {
		listed, err := i.sourcer.List(ctx)
		if err != nil {
			i.logger.Error("Application enumeration failed; index limited to aliases.", zap.Error(err))
			listed = map[string]string{}
		} else {
			i.logger.Info("Application index built.", zap.Int("apps", len(listed)))
		}
		i.mu.Lock()
		i.apps = listed
		i.mu.Unlock()
		return listed, nil
	})
	return v.(map[string]string)
}

// Refresh drops the cached enumeration; the next lookup rebuilds it.
func (i *Index) Refresh() {
	i.mu.Lock()
	i.apps = nil
	i.mu.Unlock()
}

// Resolve maps a human-readable app name to a launch command. Resolution
// order: alias table, exact index match, substring-overlap scoring, then the
// raw name as a literal command. The boolean reports whether the name was
// actually known; the literal fallback still returns a usable command.
func (i *Index) Resolve(ctx context.Context, name string) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return "", false
	}

	if cmd, ok := aliases[needle]; ok {
		return cmd, true
	}

	apps := i.snapshot(ctx)
	if cmd, ok := apps[needle]; ok {
		return cmd, true
	}

	type candidate struct {
		score int
		cmd   string
	}
	var candidates []candidate
	for appName, cmd := range apps {
		score := 0
		if strings.Contains(appName, needle) {
			// Prefer the tightest containing name.
			score = 100 - (len(appName) - len(needle))
		} else if strings.Contains(needle, appName) {
			score = 80
		}
		if score > 0 {
			candidates = append(candidates, candidate{score: score, cmd: cmd})
		}
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(a, b int) bool { return candidates[a].score > candidates[b].score })
		return candidates[0].cmd, true
	}

	// Unknown name: treat it as a literal command and let the OS decide.
	if strings.Contains(needle, " ") && !strings.HasPrefix(needle, `"`) {
		return fmt.Sprintf("%q", needle), false
	}
	return needle, false
}

// maxSuggestions bounds the fuzzy-correction feedback handed back to the
// decision function.
const maxSuggestions = 5

// Suggest returns ranked alternative app names for a query that failed to
// resolve, for the decision function to retry with.
func (i *Index) Suggest(ctx context.Context, name string) []string {
	needle := strings.ToLower(strings.TrimSpace(name))
	apps := i.snapshot(ctx)

	names := make([]string, 0, len(apps)+len(aliases))
	for n := range aliases {
		names = append(names, n)
	}
	for n := range apps {
		names = append(names, n)
	}
	sort.Strings(names)

	type scored struct {
		name string
		sim  float64
	}
	var ranked []scored
	for _, n := range names {
		if sim := bigramSimilarity(needle, n); sim >= 0.4 {
			ranked = append(ranked, scored{name: n, sim: sim})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].sim > ranked[b].sim })

	out := make([]string, 0, maxSuggestions)
	for _, s := range ranked {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, s.name)
	}
	if len(out) > 0 {
		return out
	}

	// No fuzzy match; fall back to plain substring hits.
	for _, n := range names {
		if strings.Contains(n, needle) {
			out = append(out, n)
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}

// bigramSimilarity is the Sorensen-Dice coefficient over character bigrams.
func bigramSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	overlap := 0
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	total := 0
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	return 2 * float64(overlap) / float64(total)
}

func bigrams(s string) map[string]int {
	out := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

// startApp is one row of the enumeration JSON.
type startApp struct {
	Name  string `json:"Name"`
	AppID string `json:"AppID"`
}

// ParseStartApps decodes the `Get-StartApps | ConvertTo-Json` output into
// name -> launch-command pairs. A single object (one installed app) and an
// array are both accepted, matching the tool's output shapes.
func ParseStartApps(raw []byte) (map[string]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return map[string]string{}, nil
	}

	var rows []startApp
	if strings.HasPrefix(trimmed, "{") {
		var one startApp
		if err := json.Unmarshal([]byte(trimmed), &one); err != nil {
			return nil, fmt.Errorf("parse app listing: %w", err)
		}
		rows = []startApp{one}
	} else if err := json.Unmarshal([]byte(trimmed), &rows); err != nil {
		return nil, fmt.Errorf("parse app listing: %w", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Name == "" || row.AppID == "" {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(row.Name))
		if _, exists := out[name]; !exists {
			out[name] = `shell:AppsFolder\` + row.AppID
		}
	}
	return out, nil
}
