package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&ArenaInfo{},
	&Battle{},
	&Robot{},
	&Round{},
	&RobotState{},
	&BulletTrack{},
	&Death{},
	&Diagnostic{},
	&Score{},
	&Performance{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// ArenaInfo describes the instance that recorded the battles
type ArenaInfo struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:127"`
	Description string `json:"description" gorm:"size:255"`
	Website     string `json:"website" gorm:"size:255"`
}

func (*ArenaInfo) TableName() string {
	return "arena_infos"
}

// Performance is one status monitor sample
type Performance struct {
	ID            uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time          time.Time `json:"time" gorm:"index:idx_performance_time"`
	BattleKey     string    `json:"battleKey" gorm:"size:64;index:idx_performance_battle"`
	Phase         string    `json:"phase" gorm:"size:32"`
	Round         int32     `json:"round"`
	Turn          int32     `json:"turn"`
	Alive         int       `json:"alive"`
	Handled       int64     `json:"handled"`
	PendingWrites int       `json:"pendingWrites"`
	SkippedWrites int64     `json:"skippedWrites"`
}

func (*Performance) TableName() string {
	return "performances"
}

////////////////////////
// RECORDING MODELS
////////////////////////

// Battle is one run of the scheduler
type Battle struct {
	gorm.Model
	BattleID          string         `json:"battleId" gorm:"size:64;uniqueIndex"`
	StartTime         time.Time      `json:"startTime" gorm:"index:idx_battle_start"`
	EndTime           *time.Time     `json:"endTime"`
	BattlefieldWidth  int            `json:"battlefieldWidth"`
	BattlefieldHeight int            `json:"battlefieldHeight"`
	NumRounds         int            `json:"numRounds"`
	Seed              int64          `json:"seed"`
	ProtocolVersion   uint32         `json:"protocolVersion"`
	Rules             datatypes.JSON `json:"rules"`
	Aborted           bool           `json:"aborted" gorm:"default:false"`
	Robots            []Robot
	Rounds            []Round
}

func (*Battle) TableName() string {
	return "battles"
}

// Robot is a contestant registered with a battle
// Uses composite primary key (BattleID, RobotIndex)
type Robot struct {
	BattleID     uint   `json:"battleId" gorm:"primaryKey;autoIncrement:false"`
	RobotIndex   int    `json:"index" gorm:"primaryKey;autoIncrement:false"`
	Battle       Battle `gorm:"foreignkey:BattleID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Name         string `json:"name" gorm:"size:127"`
	ShortName    string `json:"shortName" gorm:"size:127"`
	Class        string `json:"class" gorm:"size:16"`
	TeamName     string `json:"teamName" gorm:"size:127"`
	TeamIndex    int    `json:"teamIndex"`
	IsTeamLeader bool   `json:"isTeamLeader" gorm:"default:false"`
	IsSentry     bool   `json:"isSentry" gorm:"default:false"`
}

func (*Robot) TableName() string {
	return "robots"
}

// Round is the outcome of one round
type Round struct {
	ID         uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	BattleID   uint           `json:"battleId" gorm:"index:idx_round_battle_id"`
	Battle     Battle         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:BattleID;"`
	Round      int            `json:"round"`
	Turns      int            `json:"turns"`
	Draw       bool           `json:"draw" gorm:"default:false"`
	Placements datatypes.JSON `json:"placements"` // robot indices, winner first
	Scores     datatypes.JSON `json:"scores"`
}

func (*Round) TableName() string {
	return "rounds"
}

// RobotState is a robot at a turn boundary
type RobotState struct {
	ID           uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	BattleID     uint       `json:"battleId" gorm:"index:idx_robotstate_battle_id"`
	Battle       Battle     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:BattleID;"`
	Round        int32      `json:"round" gorm:"index:idx_robotstate_round_turn"`
	Turn         int32      `json:"turn" gorm:"index:idx_robotstate_round_turn"`
	RobotIndex   int32      `json:"robotIndex"`
	State        string     `json:"state" gorm:"size:16"`
	Energy       float64    `json:"energy"`
	Position     geom.Point `json:"position"`
	BodyHeading  float64    `json:"bodyHeading"`
	GunHeading   float64    `json:"gunHeading"`
	RadarHeading float64    `json:"radarHeading"`
	Velocity     float64    `json:"velocity"`
	GunHeat      float64    `json:"gunHeat"`
	SkippedTurns int32      `json:"skippedTurns"`
}

func (*RobotState) TableName() string {
	return "robot_states"
}

// BulletTrack is a bullet's flight from the turn it was fired to the turn it
// stopped, one vertex per turn
type BulletTrack struct {
	ID          uint             `json:"id" gorm:"primarykey;autoIncrement;"`
	BattleID    uint             `json:"battleId" gorm:"index:idx_bullettrack_battle_id"`
	Battle      Battle           `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:BattleID;"`
	Round       int32            `json:"round"`
	BulletID    int32            `json:"bulletId"`
	OwnerIndex  int32            `json:"ownerIndex"`
	VictimIndex int32            `json:"victimIndex"` // -1 when nothing was hit
	Power       float64          `json:"power"`
	FiredTurn   int32            `json:"firedTurn"`
	EndTurn     int32            `json:"endTurn"`
	EndState    string           `json:"endState" gorm:"size:16"`
	Track       *geom.LineString `json:"track"` // nil when the bullet stopped where it was fired
	End         geom.Point       `json:"end"`
}

func (*BulletTrack) TableName() string {
	return "bullet_tracks"
}

// Death is a robot leaving a round
type Death struct {
	ID          uint       `json:"id" gorm:"primarykey;autoIncrement;"`
	Time        time.Time  `json:"time"`
	BattleID    uint       `json:"battleId" gorm:"index:idx_death_battle_id"`
	Battle      Battle     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:BattleID;"`
	Round       int        `json:"round"`
	Turn        int        `json:"turn"`
	RobotIndex  int        `json:"robotIndex"`
	RobotName   string     `json:"robotName" gorm:"size:127"`
	Cause       string     `json:"cause" gorm:"size:32"`
	KillerIndex int        `json:"killerIndex"` // -1 when no robot is credited
	Site        geom.Point `json:"site"`
}

func (*Death) TableName() string {
	return "deaths"
}

// Diagnostic is one bad behavior by a robot
type Diagnostic struct {
	ID         uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time       time.Time `json:"time"`
	BattleID   uint      `json:"battleId" gorm:"index:idx_diagnostic_battle_id"`
	Battle     Battle    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:BattleID;"`
	Round      int       `json:"round"`
	Turn       int       `json:"turn"`
	RobotIndex int       `json:"robotIndex"`
	RobotName  string    `json:"robotName" gorm:"size:127"`
	Behavior   string    `json:"behavior" gorm:"size:32"`
	Cause      string    `json:"cause" gorm:"size:32"`
	Detail     string    `json:"detail" gorm:"size:2000"`
}

func (*Diagnostic) TableName() string {
	return "diagnostics"
}

// Score is a robot's final battle score
type Score struct {
	ID                uint    `json:"id" gorm:"primarykey;autoIncrement;"`
	BattleID          uint    `json:"battleId" gorm:"index:idx_score_battle_id"`
	Battle            Battle  `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;foreignkey:BattleID;"`
	RobotIndex        int     `json:"robotIndex"`
	Name              string  `json:"name" gorm:"size:127"`
	TeamName          string  `json:"teamName" gorm:"size:127"`
	Rank              int     `json:"rank"`
	Total             float64 `json:"total"`
	Survival          float64 `json:"survival"`
	LastSurvivorBonus float64 `json:"lastSurvivorBonus"`
	BulletDamage      float64 `json:"bulletDamage"`
	BulletKillBonus   float64 `json:"bulletKillBonus"`
	RamDamage         float64 `json:"ramDamage"`
	RamKillBonus      float64 `json:"ramKillBonus"`
	Firsts            int     `json:"firsts"`
	Seconds           int     `json:"seconds"`
	Thirds            int     `json:"thirds"`
	NonScoring        bool    `json:"nonScoring" gorm:"default:false"`
}

func (*Score) TableName() string {
	return "scores"
}
