package game

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

var (
	ErrTeamFull     = errors.New("team is full")
	ErrTooManyTeams = errors.New("maximum teams reached")
)

// Team is a roster of entities sharing a team number. Team zero is
// "no team" and never has a roster.
type Team struct {
	ID        int          `json:"id"`
	Name      string       `json:"name"`
	Color     string       `json:"color"`
	Members   map[int]bool `json:"-"` // Entity id -> membership
	Kills     int          `json:"kills"`
	Deaths    int          `json:"deaths"`
	CreatedAt time.Time    `json:"createdAt"`
}

// TeamView is a read-only copy of a team for API responses
type TeamView struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	Members []int  `json:"members"`
	Kills   int    `json:"kills"`
	Deaths  int    `json:"deaths"`
}

// TeamManager handles team operations
type TeamManager struct {
	mu    sync.RWMutex
	teams map[int]*Team
}

// MaxTeamSize limits team membership
const MaxTeamSize = 64

// MaxTeams limits total teams
const MaxTeams = 50

// Team colors available
var TeamColors = []string{
	"red", "blue", "green", "yellow", "purple",
	"orange", "pink", "cyan", "white", "black",
}

// NewTeamManager creates a new team manager
func NewTeamManager() *TeamManager {
	return &TeamManager{
		teams: make(map[int]*Team),
	}
}

// Join adds entity id to team, creating the team on first use.
func (tm *TeamManager) Join(teamID, entityID int) error {
	if teamID == 0 {
		return nil
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	team, ok := tm.teams[teamID]
	if !ok {
		if len(tm.teams) >= MaxTeams {
			return ErrTooManyTeams
		}
		team = &Team{
			ID:        teamID,
			Name:      fmt.Sprintf("Team %d", teamID),
			Color:     TeamColors[(teamID-1+len(TeamColors))%len(TeamColors)],
			Members:   make(map[int]bool),
			CreatedAt: time.Now(),
		}
		tm.teams[teamID] = team
	}
	if team.Members[entityID] {
		return nil
	}
	if len(team.Members) >= MaxTeamSize {
		return ErrTeamFull
	}
	team.Members[entityID] = true
	return nil
}

// Leave removes entity id from its team. Teams are kept when they empty so
// their tallies survive.
func (tm *TeamManager) Leave(teamID, entityID int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if team, ok := tm.teams[teamID]; ok {
		delete(team.Members, entityID)
	}
}

// RenameTeam renames a team
func (tm *TeamManager) RenameTeam(teamID int, name string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	team, ok := tm.teams[teamID]
	if !ok {
		return fmt.Errorf("team %d not found", teamID)
	}
	team.Name = name
	return nil
}

// SetTeamColor sets team color
func (tm *TeamManager) SetTeamColor(teamID int, color string) error {
	if !slices.Contains(TeamColors, color) {
		return fmt.Errorf("invalid color %q", color)
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	team, ok := tm.teams[teamID]
	if !ok {
		return fmt.Errorf("team %d not found", teamID)
	}
	team.Color = color
	return nil
}

// RecordDeath credits the killer's team and charges the victim's
func (tm *TeamManager) RecordDeath(killerTeam, victimTeam int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if team, ok := tm.teams[killerTeam]; ok && killerTeam != victimTeam {
		team.Kills++
	}
	if team, ok := tm.teams[victimTeam]; ok {
		team.Deaths++
	}
}

// GetTeam returns a copy of team id
func (tm *TeamManager) GetTeam(teamID int) (TeamView, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	team, ok := tm.teams[teamID]
	if !ok {
		return TeamView{}, false
	}
	return team.view(), true
}

// GetTopTeams returns teams sorted by kills, then id
func (tm *TeamManager) GetTopTeams(limit int) []TeamView {
	teams := tm.GetAllTeams()
	sort.SliceStable(teams, func(i, j int) bool {
		return teams[i].Kills > teams[j].Kills
	})
	if limit > 0 && len(teams) > limit {
		teams = teams[:limit]
	}
	return teams
}

// GetAllTeams returns every team ordered by id
func (tm *TeamManager) GetAllTeams() []TeamView {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	teams := make([]TeamView, 0, len(tm.teams))
	for _, t := range tm.teams {
		teams = append(teams, t.view())
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams
}

func (t *Team) view() TeamView {
	members := make([]int, 0, len(t.Members))
	for id := range t.Members {
		members = append(members, id)
	}
	slices.Sort(members)
	return TeamView{
		ID:      t.ID,
		Name:    t.Name,
		Color:   t.Color,
		Members: members,
		Kills:   t.Kills,
		Deaths:  t.Deaths,
	}
}
