package chapter

// RandomEventKind labels the flavor of an injected story beat.
type RandomEventKind string

// Random event kinds.
const (
	EventEncounter   RandomEventKind = "encounter"
	EventDiscovery   RandomEventKind = "discovery"
	EventWeather     RandomEventKind = "weather"
	EventRumor       RandomEventKind = "rumor"
	EventOpportunity RandomEventKind = "opportunity"
	EventCrisis      RandomEventKind = "crisis"
)

// RandomEvent is a rolled story beat appended to a chapter opening.
type RandomEvent struct {
	Kind RandomEventKind
	Text string
}

// eventTable holds the weighted draw set. Weights are relative; common
// beats outweigh dramatic ones.
var eventTable = []struct {
	kind   RandomEventKind
	weight float64
	text   string
}{
	{EventEncounter, 25, "A stranger appears at the edge of the scene, watching the group in silence."},
	{EventDiscovery, 25, "Something half-hidden catches the light, an object nobody noticed before."},
	{EventWeather, 15, "The weather turns without warning, pressing everyone toward shelter."},
	{EventRumor, 15, "A rumor reaches the group, secondhand and unverifiable, but troubling."},
	{EventOpportunity, 10, "A door that was locked now stands ajar. The opening will not last."},
	{EventCrisis, 10, "A cry cuts through the air. Whatever happens next, there is no more time to deliberate."},
}

// rollEvent draws one event from the weighted table.
func rollEvent(randFloat func() float64) *RandomEvent {
	total := 0.0
	for _, e := range eventTable {
		total += e.weight
	}
	roll := randFloat() * total
	for _, e := range eventTable {
		roll -= e.weight
		if roll < 0 {
			return &RandomEvent{Kind: e.kind, Text: e.text}
		}
	}
	last := eventTable[len(eventTable)-1]
	return &RandomEvent{Kind: last.kind, Text: last.text}
}
