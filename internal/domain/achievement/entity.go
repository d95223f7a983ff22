package achievement

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Achievement ids
const (
	FirstStory      = "first_story"
	PerfectScore    = "perfect_score"
	FiveStories     = "five_stories"
	TenStories      = "ten_stories"
	TwentyFiveStory = "twenty_five_stories"
	FiftyStories    = "fifty_stories"
)

// Descriptor describes an achievement and its one-time reward.
type Descriptor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Rarity        Rarity `json:"rarity"`
	CreditsReward int    `json:"credits_reward"`
}

// Catalog maps achievement id to its descriptor.
type Catalog map[string]Descriptor

// Record is a user's achievement row.
type Record struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	AchievementID string     `db:"achievement_id" json:"achievement_id"`
	Name          string     `db:"name" json:"name"`
	Rarity        Rarity     `db:"rarity" json:"rarity"`
	Unlocked      bool       `db:"unlocked" json:"unlocked"`
	UnlockedAt    *time.Time `db:"unlocked_at" json:"unlocked_at,omitempty"`
	CreditsReward int        `db:"credits_reward" json:"credits_reward"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// StreakResult is the outcome of a streak increment.
type StreakResult struct {
	Streak       int  `json:"streak"`
	BonusAwarded bool `json:"bonus_awarded"`
	Bonus        int  `json:"bonus"`
	Balance      int  `json:"balance,omitempty"`
}

// Config wires the engine's reward tables.
type Config struct {
	Catalog Catalog

	// Milestones maps a qualifying submission count to an achievement id.
	Milestones map[int]string

	// StreakBonuses maps an exact streak value to the credits paid on reaching it.
	StreakBonuses map[int]int
}

func DefaultCatalog() Catalog {
	return Catalog{
		FirstStory:      {ID: FirstStory, Name: "First Story", Rarity: RarityCommon, CreditsReward: 50},
		PerfectScore:    {ID: PerfectScore, Name: "Perfect Score", Rarity: RarityLegendary, CreditsReward: 200},
		FiveStories:     {ID: FiveStories, Name: "Storyteller", Rarity: RarityCommon, CreditsReward: 100},
		TenStories:      {ID: TenStories, Name: "Author", Rarity: RarityRare, CreditsReward: 150},
		TwentyFiveStory: {ID: TwentyFiveStory, Name: "Novelist", Rarity: RarityEpic, CreditsReward: 300},
		FiftyStories:    {ID: FiftyStories, Name: "Master Storyteller", Rarity: RarityLegendary, CreditsReward: 500},
	}
}

func DefaultMilestones() map[int]string {
	return map[int]string{
		1:  FirstStory,
		5:  FiveStories,
		10: TenStories,
		25: TwentyFiveStory,
		50: FiftyStories,
	}
}

func DefaultStreakBonuses() map[int]int {
	return map[int]int{5: 50, 10: 100, 15: 150, 20: 250}
}

// DefaultConfig returns the production reward tables
func DefaultConfig() Config {
	return Config{
		Catalog:       DefaultCatalog(),
		Milestones:    DefaultMilestones(),
		StreakBonuses: DefaultStreakBonuses(),
	}
}

func (c Config) normalized() Config {
	if c.Catalog == nil {
		c.Catalog = DefaultCatalog()
	}
	if c.Milestones == nil {
		c.Milestones = DefaultMilestones()
	}
	if c.StreakBonuses == nil {
		c.StreakBonuses = DefaultStreakBonuses()
	}
	return c
}

// reachedMilestones returns the milestone counts <= count in ascending order.
func (c Config) reachedMilestones(count int) []int {
	reached := make([]int, 0, len(c.Milestones))
	for n := range c.Milestones {
		if n <= count {
			reached = append(reached, n)
		}
	}
	sort.Ints(reached)
	return reached
}
