package plugins

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	// defaultCheckinReward is used when the reward setting is absent
	defaultCheckinReward = 10
	// streakBonus is added per consecutive day, capped at maxStreakBonus
	streakBonus    = 2
	maxStreakBonus = 20
	dayLayout      = "2006-01-02"
)

// now is replaced in tests
var now = time.Now

// checkinRecord is stored per user and conversation
type checkinRecord struct {
	LastDay string `json:"last_day"`
	Streak  int    `json:"streak"`
	Days    int    `json:"days"`
	Points  int    `json:"points"`
}

// NewCheckin builds the checkin plugin. Users check in once per local day;
// records live in conversation storage and the daily rank in shared
// storage.
func NewCheckin(e *core.Engine) *core.Plugin {
	p := e.NewPlugin("checkin").Intro("daily check-in")

	// serializes the read-modify-write of the shared daily counter
	var rankMu sync.Mutex

	p.OnIdle().
		Command("checkin").
		Help("check in for today").
		Handle(func(dc *core.DispatchContext) error {
			ctx := dc.Context()
			user := dc.Event.SenderID
			if user == "" {
				dc.SendText("cannot tell who you are")
				return nil
			}

			acc := dc.Storage("user-" + user)
			var rec checkinRecord
			if _, err := acc.Load(ctx, &rec); err != nil {
				return fmt.Errorf("failed to load checkin record: %w", err)
			}

			today := now()
			day := today.Format(dayLayout)
			if rec.LastDay == day {
				dc.SendText(fmt.Sprintf("already checked in today, %d points", rec.Points))
				return nil
			}

			if rec.LastDay == today.AddDate(0, 0, -1).Format(dayLayout) {
				rec.Streak++
			} else {
				rec.Streak = 1
			}
			reward := checkinReward(dc) + min((rec.Streak-1)*streakBonus, maxStreakBonus)
			rec.LastDay = day
			rec.Days++
			rec.Points += reward
			if err := acc.Save(ctx, rec); err != nil {
				return fmt.Errorf("failed to save checkin record: %w", err)
			}

			rankMu.Lock()
			rankAcc := dc.SharedStorage("rank-" + day)
			var rank int
			_, err := rankAcc.Load(ctx, &rank)
			if err == nil {
				rank++
				err = rankAcc.Save(ctx, rank)
			}
			rankMu.Unlock()
			if err != nil {
				return fmt.Errorf("failed to update daily rank: %w", err)
			}

			logger.ForConversation(dc.Session.BotID, dc.Session.ConversationID).WithFields(logrus.Fields{
				"user":   user,
				"streak": rec.Streak,
				"rank":   rank,
			}).Debug("user-checked-in")

			dc.SendText(fmt.Sprintf("checked in #%d today, +%d points (streak %d, total %d)",
				rank, reward, rec.Streak, rec.Points))
			return nil
		})

	p.OnIdle().
		Command("balance").
		Help("show your points").
		Handle(func(dc *core.DispatchContext) error {
			var rec checkinRecord
			found, err := dc.Storage("user-"+dc.Event.SenderID).Load(dc.Context(), &rec)
			if err != nil {
				return fmt.Errorf("failed to load checkin record: %w", err)
			}
			if !found {
				dc.SendText("no check-ins yet")
				return nil
			}
			dc.SendText(fmt.Sprintf("%d points over %d days, last on %s", rec.Points, rec.Days, rec.LastDay))
			return nil
		})

	return p
}

// checkinReward reads the reward plugin setting
func checkinReward(dc *core.DispatchContext) int {
	v := dc.Engine.Config().PluginSetting(dc.Plugin.Name(), "reward", strconv.Itoa(defaultCheckinReward))
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultCheckinReward
	}
	return n
}
