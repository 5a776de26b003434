// Package profile defines the static language toolchain registry.
package profile

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"codeio/internal/pmodel"
	appErr "codeio/pkg/errors"
)

// Profile defines how to compile and run one language.
// Command templates carry {file}, {exe}, {workdir} and {memory} placeholders,
// substituted literally at spawn time with no shell interpretation.
type Profile struct {
	Ext        string
	SourceStem string
	CompileTpl string // empty for interpreted languages
	RunTpl     string
	Env        []string // environment templates, e.g. "GOMEMLIMIT={memory}MiB"
	PathProbe  string   // binary that must be reachable for RunTpl/CompileTpl
	PathExtra  string   // directory prepended to PATH when the probe fails
}

// CompileEnabled reports whether the language needs a compilation stage.
func (p Profile) CompileEnabled() bool {
	return p.CompileTpl != ""
}

// SourceFileName returns the filename the source must be written under.
func (p Profile) SourceFileName() string {
	return p.SourceStem + p.Ext
}

// registry is fixed at build time; changing it is a deployment action.
var registry = map[pmodel.Language]Profile{
	pmodel.LangPython: {
		Ext:        ".py",
		SourceStem: "main",
		RunTpl:     "python3 {file}",
	},
	pmodel.LangJavaScript: {
		Ext:        ".js",
		SourceStem: "main",
		RunTpl:     "node --max-old-space-size={memory} {file}",
	},
	pmodel.LangCpp: {
		Ext:        ".cpp",
		SourceStem: "main",
		CompileTpl: "g++ -O0 -std=c++17 -fsanitize=undefined -fno-sanitize-recover=undefined {file} -o {exe}",
		RunTpl:     "{exe}",
	},
	pmodel.LangC: {
		Ext:        ".c",
		SourceStem: "main",
		CompileTpl: "gcc {file} -O0 -pipe -std=c17 -fsanitize=undefined -fno-sanitize-recover=undefined -o {exe}",
		RunTpl:     "{exe}",
	},
	pmodel.LangGo: {
		Ext:        ".go",
		SourceStem: "main",
		CompileTpl: "go build -o {exe} {file}",
		RunTpl:     "{exe}",
		Env:        []string{"GOMEMLIMIT={memory}MiB"},
	},
	pmodel.LangRust: {
		Ext:        ".rs",
		SourceStem: "main",
		CompileTpl: "rustc {file} -O -o {exe}",
		RunTpl:     "{exe}",
		PathProbe:  "rustc",
		PathExtra:  "~/.cargo/bin",
	},
	pmodel.LangJava: {
		Ext:        ".java",
		SourceStem: "Main",
		CompileTpl: "javac {file}",
		RunTpl:     "java -XX:+UseSerialGC -Xmx{memory}m -cp {workdir} -enableassertions Main",
	},
	pmodel.LangKotlin: {
		Ext:        ".kt",
		SourceStem: "main",
		CompileTpl: "kotlinc {file} -include-runtime -d {exe}.jar",
		RunTpl:     "java -XX:+UseSerialGC -Xmx{memory}m -jar {exe}.jar",
	},
	pmodel.LangCSharp: {
		Ext:        ".cs",
		SourceStem: "main",
		CompileTpl: "mcs {file} -optimize+ -out:{exe}.exe",
		RunTpl:     "mono {exe}.exe",
	},
}

// ProfileFor returns the profile for a supported language tag.
// Requesting an unsupported tag is a programmer error and panics; callers
// must validate the tag at the intake boundary.
func ProfileFor(lang pmodel.Language) Profile {
	p, ok := registry[lang]
	if !ok {
		panic(fmt.Sprintf("profile: unsupported language %q", lang))
	}
	return p
}

// Vars holds the substitution values for one command expansion.
type Vars struct {
	File     string
	Exe      string
	WorkDir  string
	MemoryMB int
}

// ExpandCommand splits tpl into an argv and substitutes placeholders in each
// token, so substituted values are never re-split or quote-parsed.
func ExpandCommand(tpl string, vars Vars) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command template is required")
	}
	replacer := strings.NewReplacer(
		"{file}", vars.File,
		"{exe}", vars.Exe,
		"{workdir}", vars.WorkDir,
		"{memory}", strconv.Itoa(vars.MemoryMB),
	)
	fields, err := shlex.Split(tpl)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("command is empty after expansion")
	}
	for i, field := range fields {
		fields[i] = replacer.Replace(field)
	}
	return fields, nil
}

// BuildEnv returns the child environment for the profile: the worker's own
// environment plus the profile's expanded env templates, with the PATH
// fallback applied when the probe binary is not reachable.
func BuildEnv(p Profile, memoryMB int) []string {
	env := os.Environ()
	for _, tpl := range p.Env {
		env = append(env, strings.ReplaceAll(tpl, "{memory}", strconv.Itoa(memoryMB)))
	}
	if p.PathProbe == "" {
		return env
	}
	if _, err := exec.LookPath(p.PathProbe); err == nil {
		return env
	}
	extra := expandHome(p.PathExtra)
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + extra + string(os.PathListSeparator) + strings.TrimPrefix(kv, "PATH=")
			return env
		}
	}
	return append(env, "PATH="+extra)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
