package runtime

// GoRuntime builds Go module repositories.
type GoRuntime struct{}

func (g *GoRuntime) Name() string { return "go" }

func (g *GoRuntime) Image() string { return "docker.io/library/golang:1.24-bookworm" }

func (g *GoRuntime) InstallCommand() []string {
	return []string{"go", "mod", "download"}
}

func (g *GoRuntime) BuildCommand() []string {
	return []string{"go", "build", "./..."}
}

func (g *GoRuntime) ManifestFiles() []string {
	return []string{"go.mod"}
}
