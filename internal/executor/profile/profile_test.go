package profile

import (
	"os"
	"reflect"
	"testing"

	"codeio/internal/pmodel"
)

func TestProfileForIsTotalOverSupportedSet(t *testing.T) {
	for _, lang := range pmodel.Languages {
		p := ProfileFor(lang)
		if p.Ext == "" {
			t.Errorf("%s: missing extension", lang)
		}
		if p.RunTpl == "" {
			t.Errorf("%s: missing run template", lang)
		}
		if p.SourceStem == "" {
			t.Errorf("%s: missing source stem", lang)
		}
	}
}

func TestProfileForPanicsOnUnknownTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown language")
		}
	}()
	ProfileFor(pmodel.Language("Fortran"))
}

func TestJavaSourceStem(t *testing.T) {
	java := ProfileFor(pmodel.LangJava)
	if got := java.SourceFileName(); got != "Main.java" {
		t.Errorf("java source = %q, want Main.java", got)
	}
	python := ProfileFor(pmodel.LangPython)
	if got := python.SourceFileName(); got != "main.py" {
		t.Errorf("python source = %q, want main.py", got)
	}
}

func TestCompileEnabled(t *testing.T) {
	interpreted := []pmodel.Language{pmodel.LangPython, pmodel.LangJavaScript}
	for _, lang := range interpreted {
		if ProfileFor(lang).CompileEnabled() {
			t.Errorf("%s should not compile", lang)
		}
	}
	compiled := []pmodel.Language{
		pmodel.LangC, pmodel.LangCpp, pmodel.LangRust, pmodel.LangGo,
		pmodel.LangJava, pmodel.LangKotlin, pmodel.LangCSharp,
	}
	for _, lang := range compiled {
		if !ProfileFor(lang).CompileEnabled() {
			t.Errorf("%s should compile", lang)
		}
	}
}

func TestExpandCommandSubstitutesPlaceholders(t *testing.T) {
	vars := Vars{
		File:     "/work/main.cpp",
		Exe:      "/work/prog",
		WorkDir:  "/work",
		MemoryMB: 64,
	}

	tests := []struct {
		name string
		tpl  string
		want []string
	}{
		{
			name: "compile",
			tpl:  "g++ -O0 {file} -o {exe}",
			want: []string{"g++", "-O0", "/work/main.cpp", "-o", "/work/prog"},
		},
		{
			name: "node memory flag",
			tpl:  "node --max-old-space-size={memory} {file}",
			want: []string{"node", "--max-old-space-size=64", "/work/main.cpp"},
		},
		{
			name: "java classpath",
			tpl:  "java -Xmx{memory}m -cp {workdir} Main",
			want: []string{"java", "-Xmx64m", "-cp", "/work", "Main"},
		},
		{
			name: "kotlin jar suffix",
			tpl:  "java -jar {exe}.jar",
			want: []string{"java", "-jar", "/work/prog.jar"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandCommand(tc.tpl, vars)
			if err != nil {
				t.Fatalf("expand failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("expand = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestExpandCommandRejectsEmptyTemplate(t *testing.T) {
	if _, err := ExpandCommand("   ", Vars{}); err == nil {
		t.Fatal("expected error for blank template")
	}
}

func TestBuildEnvAppliesMemoryTemplate(t *testing.T) {
	env := BuildEnv(ProfileFor(pmodel.LangGo), 128)
	found := false
	for _, kv := range env {
		if kv == "GOMEMLIMIT=128MiB" {
			found = true
		}
	}
	if !found {
		t.Errorf("GOMEMLIMIT=128MiB not in env")
	}
}

func TestBuildEnvWithoutTemplatesAddsNothing(t *testing.T) {
	env := BuildEnv(ProfileFor(pmodel.LangPython), 64)
	if len(env) != len(os.Environ()) {
		t.Errorf("python env has %d entries, want the plain environ (%d)", len(env), len(os.Environ()))
	}
}
