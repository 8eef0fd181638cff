package plugins

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/pkg/constants"
)

const (
	// maxTicketsPerPurchase bounds #buy
	maxTicketsPerPurchase = 10
	// defaultGoldPerPick is used when the gold_per_pick setting is absent
	defaultGoldPerPick = 1
)

// travelCache is the per-conversation state of the travel plugin
type travelCache struct {
	Tickets int
}

// buyPayload is the argument of #buy
type buyPayload struct {
	Count int `mapstructure:"count" arg:"optional"`
}

// Validate rejects purchases outside 1..maxTicketsPerPurchase
func (b *buyPayload) Validate() error {
	if b.Count == 0 {
		b.Count = 1
	}
	if b.Count < 1 || b.Count > maxTicketsPerPurchase {
		return fmt.Errorf("count must be between 1 and %d", maxTicketsPerPurchase)
	}
	return nil
}

// goldPayload is the argument of #change
type goldPayload struct {
	Number int `mapstructure:"number"`
}

// Validate rejects non-positive amounts
func (g *goldPayload) Validate() error {
	if g.Number < 1 {
		return errors.New("number must be positive")
	}
	return nil
}

// NewTravel builds the travel plugin, a tour of nested states:
//
//	travel
//	├── earth
//	├── moon
//	└── sun
//	    ├── teashop
//	    ├── ticket
//	    ├── flare
//	    └── park
func NewTravel(e *core.Engine) *core.Plugin {
	p := e.NewPlugin("travel").Intro("interstellar travel")

	places := map[string]core.StateID{"": p.Root()}
	for _, path := range [][]string{
		{"earth"}, {"moon"}, {"sun"},
		{"sun", "teashop"}, {"sun", "ticket"}, {"sun", "flare"}, {"sun", "park"},
	} {
		places[strings.Join(path, constants.DefaultStateSeparator)] = p.State(path...)
	}
	earth, moon, sun := places["earth"], places["moon"], places["sun"]
	teashop, ticket, park := places["sun.teashop"], places["sun.ticket"], places["sun.park"]

	p.SetStartCommands("travel")
	p.SetCloseCommands("exit")

	p.On().
		AllDepths().
		Command("hi").
		Help("say hi").
		Handle(func(dc *core.DispatchContext) error {
			sep := dc.Engine.Config().Command.StateSeparator
			dc.SendText("hi, I'm in " + strings.TrimPrefix(dc.StateName(), constants.RootStateKey+sep))
			return nil
		})

	p.On().
		AllDepths().
		Command("move", "goto").
		Help("<place> [place...] go somewhere").
		Handle(func(dc *core.DispatchContext) error {
			where := strings.Join(dc.Args, constants.DefaultStateSeparator)
			target, ok := places[where]
			if !ok || where == "" {
				dc.SendText("unknown place " + strconv.Quote(where))
				return nil
			}
			if err := dc.Goto(target); err != nil {
				return err
			}
			dc.SendText("arrived at " + where)
			return nil
		})

	p.On(earth).
		Command("jump").
		Help("jump really high").
		Handle(func(dc *core.DispatchContext) error {
			if err := dc.Goto(moon); err != nil {
				return err
			}
			dc.SendText("you jump really high and land on the moon")
			return nil
		})

	p.On(moon).
		Command("jump").
		Help("float back home").
		Handle(func(dc *core.DispatchContext) error {
			if err := dc.Goto(earth); err != nil {
				return err
			}
			dc.SendText("you float all the way back to earth")
			return nil
		})

	p.On(earth, moon).
		Command("drink").
		Help("drink water").
		Handle(func(dc *core.DispatchContext) error {
			dc.SendText("you drink some water")
			return nil
		})

	p.On(sun).
		AllDepths().
		Command("drink").
		Help("drink the solar wind").
		Handle(func(dc *core.DispatchContext) error {
			dc.SendText("you drink the solar wind")
			return nil
		})

	p.On(teashop).
		Command("drink").
		Help("drink milk tea").
		Handle(func(dc *core.DispatchContext) error {
			dc.SendText("you sip a 3000 degree milk tea")
			return nil
		})

	p.On(teashop).
		Text().
		Help("look around").
		Handle(func(dc *core.DispatchContext) error {
			dc.SendText("only hot drinks are sold here")
			return nil
		})

	newCache := func() any { return &travelCache{} }

	p.On(ticket).
		Command("buy").
		Payload(func() any { return &buyPayload{} }).
		Cache("tickets", newCache).
		Help("buy flare show tickets").
		Handle(func(dc *core.DispatchContext) error {
			buy := dc.Payload.(*buyPayload)
			cache := dc.CacheValue.(*travelCache)
			cache.Tickets += buy.Count
			dc.SendText(fmt.Sprintf("flare show tickets +%d, you have %d", buy.Count, cache.Tickets))
			return nil
		})

	p.On(sun).
		AllDepths().
		Command("watch").
		Cache("tickets", newCache).
		Help("watch the flare show").
		Handle(func(dc *core.DispatchContext) error {
			cache := dc.CacheValue.(*travelCache)
			if cache.Tickets <= 0 {
				dc.SendText("buy a ticket at the ticket office first!")
				return nil
			}
			cache.Tickets--
			dc.SendText("what a show, 10 out of 10")
			return nil
		})

	p.On(park).
		Command("fake_pick").
		Help("pick up some gold").
		Handle(func(dc *core.DispatchContext) error {
			n, err := goldPerPick(dc)
			if err != nil {
				return err
			}
			dc.SendText(fmt.Sprintf("fake gold +%d", n))
			return nil
		})

	p.On(park).
		Command("change").
		Payload(func() any { return &goldPayload{} }).
		Help("set the gold picked at once").
		Handle(func(dc *core.DispatchContext) error {
			return setGoldPerPick(dc, dc.Payload.(*goldPayload).Number)
		})

	p.On(park).
		Regex(`pick(\d+)`).
		Help("set the gold picked at once").
		Handle(func(dc *core.DispatchContext) error {
			n, err := strconv.Atoi(dc.Groups[0])
			if err != nil || n < 1 {
				dc.SendText("number must be positive")
				return nil
			}
			return setGoldPerPick(dc, n)
		})

	p.On(park).
		Command("real_pick").
		Help("pick up gold for real").
		Handle(func(dc *core.DispatchContext) error {
			n, err := goldPerPick(dc)
			if err != nil {
				return err
			}
			acc := dc.Storage("gold-" + dc.Event.SenderID)
			var total int
			if _, err := acc.Load(dc.Context(), &total); err != nil {
				return err
			}
			total += n
			if err := acc.Save(dc.Context(), total); err != nil {
				return err
			}
			dc.SendText(fmt.Sprintf("real gold +%d, you have %d", n, total))
			return nil
		})

	return p
}

// goldPerPick returns the conversation's gold per pick, falling back to the
// gold_per_pick plugin setting
func goldPerPick(dc *core.DispatchContext) (int, error) {
	var n int
	found, err := dc.Storage("gold_per_pick").Load(dc.Context(), &n)
	if err != nil {
		return 0, err
	}
	if found {
		return n, nil
	}
	setting := dc.Engine.Config().PluginSetting(dc.Plugin.Name(), "gold_per_pick", strconv.Itoa(defaultGoldPerPick))
	n, err = strconv.Atoi(setting)
	if err != nil || n < 1 {
		return defaultGoldPerPick, nil
	}
	return n, nil
}

func setGoldPerPick(dc *core.DispatchContext, n int) error {
	if err := dc.Storage("gold_per_pick").Save(dc.Context(), n); err != nil {
		return err
	}
	dc.SendText(fmt.Sprintf("you now pick %d gold at once", n))
	return nil
}
