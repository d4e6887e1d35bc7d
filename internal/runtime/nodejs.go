package runtime

// NodeJSRuntime builds npm-based repositories.
type NodeJSRuntime struct{}

func (n *NodeJSRuntime) Name() string { return "nodejs" }

func (n *NodeJSRuntime) Image() string { return "docker.io/library/node:20-slim" }

func (n *NodeJSRuntime) InstallCommand() []string {
	return []string{"npm", "install", "--no-audit", "--no-fund"}
}

func (n *NodeJSRuntime) BuildCommand() []string {
	return []string{"npm", "run", "build", "--if-present"}
}

func (n *NodeJSRuntime) ManifestFiles() []string {
	return []string{"package.json"}
}
