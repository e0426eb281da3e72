package agents

// Role identifies one agent of the research pipeline.
type Role string

// Pipeline roles. QuickResearch runs on the researcher model.
const (
	RolePlanner    Role = "planner"
	RoleResearcher Role = "researcher"
	RoleWriter     Role = "writer"
	RoleCritic     Role = "critic"
	RoleQuick      Role = "quick"
)

// roleSettings fixes the sampling parameters of each role.
type roleSettings struct {
	temperature float64
	maxTokens   int
}

var settings = map[Role]roleSettings{
	RolePlanner:    {temperature: 0.2},
	RoleResearcher: {temperature: 0.5},
	RoleWriter:     {temperature: 0.7, maxTokens: 600},
	RoleCritic:     {temperature: 0.3},
	RoleQuick:      {temperature: 0.5},
}

// Temperature returns the sampling temperature used for r.
func (r Role) Temperature() float64 {
	return settings[r].temperature
}

// MaxTokens returns the completion budget for r; zero means provider default.
func (r Role) MaxTokens() int {
	return settings[r].maxTokens
}
