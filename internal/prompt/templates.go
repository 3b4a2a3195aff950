package prompt

// System prompt templates.
const (
	baseIdentityTemplate = `You are {{.AgentName}}, an AI coding assistant working in the user's repository.
Use the available tools to inspect and change code. Keep answers short and concrete.`

	environmentTemplate = `<env>
Working directory: {{.WorkspaceDir}}
Is directory a git repo: {{if .IsGitRepo}}yes{{else}}no{{end}}
Platform: {{.Platform}}
Today's date: {{.Today}}
</env>`

	constraintsTemplate = `{{if .Constraints}}## Guidelines
{{range .Constraints}}- {{.}}
{{end}}{{end}}{{if .ExtraPrompt}}
## Additional Context
{{.ExtraPrompt}}
{{end}}`

	instructionTemplate = `Instructions from: {{.Path}}
{{.Content}}`
)

// PlanModePrompt is added to the system parts of a plan-mode turn.
const PlanModePrompt = `You are in plan mode. Only read-only tools are available.
Investigate the request and answer with a concise, numbered implementation plan. Do not modify files.`

// PendingPlanPrompt introduces an approved plan carried into a build-mode turn.
const PendingPlanPrompt = "The user approved the following plan. Carry it out:\n\n"
