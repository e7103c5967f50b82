// Package v1 contains the v1 export format for recorded battles.
// Positions and events are positional arrays to keep long battles small.
package v1

// Export is the root JSON structure for v1 format
type Export struct {
	FormatVersion   int     `json:"formatVersion"`
	ProtocolVersion uint32  `json:"protocolVersion"`
	BattleID        string  `json:"battleId"`
	StartTime       string  `json:"startTime"`
	EndTime         string  `json:"endTime,omitempty"`
	Aborted         bool    `json:"aborted"`
	Battlefield     [2]int  `json:"battlefield"`
	NumRounds       int     `json:"numRounds"`
	Seed            int64   `json:"seed"`
	EndTurn         int     `json:"endTurn"` // turns played, all rounds
	Robots          []Robot `json:"robots"`
	Bullets         [][]any `json:"bullets"`
	Events          [][]any `json:"events"`
	Rounds          []Round `json:"rounds"`
	Scores          []Score `json:"scores"`
}

// Robot represents one contestant and its trajectory
type Robot struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	ShortName string  `json:"shortName"`
	Class     string  `json:"class"`
	TeamName  string  `json:"teamName,omitempty"`
	Leader    bool    `json:"leader,omitempty"`
	Sentry    bool    `json:"sentry,omitempty"`
	Positions [][]any `json:"positions"`
}

// Round is the outcome of one round
type Round struct {
	Round      int   `json:"round"`
	Turns      int   `json:"turns"`
	Draw       bool  `json:"draw"`
	Placements []int `json:"placements"`
}

// Score is a final battle score
type Score struct {
	Index        int     `json:"index"`
	Name         string  `json:"name"`
	Rank         int     `json:"rank"`
	Total        float64 `json:"total"`
	Survival     float64 `json:"survival"`
	LastSurvivor float64 `json:"lastSurvivor"`
	BulletDamage float64 `json:"bulletDamage"`
	BulletKill   float64 `json:"bulletKill"`
	RamDamage    float64 `json:"ramDamage"`
	RamKill      float64 `json:"ramKill"`
	Firsts       int     `json:"firsts"`
	Seconds      int     `json:"seconds"`
	Thirds       int     `json:"thirds"`
}
