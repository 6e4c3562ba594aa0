package languages

// Profile holds everything the sandbox needs to compile and run a
// submission in one language: the container image, the fixed name the
// source is written to, and the compile/run command lines. Profiles are
// loaded once at startup and never mutated afterwards.
type Profile struct {
	ID             string
	Name           string
	Image          string
	SourceFile     string
	CompileCommand []string
	RunCommand     []string
}

// NeedsCompile reports whether the profile has a compile step.
func (p Profile) NeedsCompile() bool {
	return len(p.CompileCommand) > 0
}

// Defaults returns the built-in language set. Deployments can extend or
// override it through configuration.
func Defaults() []Profile {
	return []Profile{
		{
			ID:             "cpp",
			Name:           "C++",
			Image:          "gcc:13",
			SourceFile:     "solution.cpp",
			CompileCommand: []string{"g++", "solution.cpp", "-O2", "-o", "solution"},
			RunCommand:     []string{"./solution"},
		},
		{
			ID:         "python",
			Name:       "Python",
			Image:      "python:3.11-slim",
			SourceFile: "solution.py",
			RunCommand: []string{"python", "solution.py"},
		},
		{
			ID:         "javascript",
			Name:       "JavaScript",
			Image:      "node:20-slim",
			SourceFile: "solution.js",
			RunCommand: []string{"node", "solution.js"},
		},
		{
			ID:             "typescript",
			Name:           "TypeScript",
			Image:          "node:20-slim",
			SourceFile:     "solution.ts",
			CompileCommand: []string{"tsc", "solution.ts"},
			RunCommand:     []string{"node", "solution.js"},
		},
	}
}
