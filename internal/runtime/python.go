package runtime

// PythonRuntime builds pip-based repositories.
type PythonRuntime struct{}

func (p *PythonRuntime) Name() string { return "python" }

func (p *PythonRuntime) Image() string { return "docker.io/library/python:3.12-slim" }

func (p *PythonRuntime) InstallCommand() []string {
	return []string{"pip", "install", "--no-cache-dir", "-r", "requirements.txt"}
}

func (p *PythonRuntime) BuildCommand() []string {
	return []string{"python3", "-m", "compileall", "-q", "."}
}

func (p *PythonRuntime) ManifestFiles() []string {
	return []string{"requirements.txt"}
}
