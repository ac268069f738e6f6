package engine

import (
	"math/rand"
	"reflect"
	"testing"
	"time"
)

func sched(id string, prio int, exclusive, blend bool) Schedule {
	return Schedule{ID: id, Name: id, Type: TypeDaily, Priority: prio, Exclusive: exclusive, BlendEnabled: blend, Enabled: true}
}

func TestResolveExclusiveBeatsHigherPriority(t *testing.T) {
	t.Parallel()
	out := Resolve([]Schedule{
		sched("loud", 10, false, false),
		sched("quiet", 3, true, false),
	})
	if out.Winner == nil || out.Winner.ID != "quiet" {
		t.Fatalf("winner = %+v, want the exclusive schedule", out.Winner)
	}
	if len(out.BlendGroup) != 0 {
		t.Fatal("exclusivity must suppress blending")
	}
}

func TestResolveBlendGroupKeepsAllMembers(t *testing.T) {
	t.Parallel()
	out := Resolve([]Schedule{
		sched("a", 9, false, true),
		sched("b", 2, false, true),
		sched("c", 5, false, false),
	})
	if out.Winner != nil {
		t.Fatalf("winner = %+v, want blend group", out.Winner)
	}
	got := make([]string, 0, len(out.BlendGroup))
	for _, s := range out.BlendGroup {
		got = append(got, s.ID)
	}
	// Priority does not eliminate blend members; non-blend schedules stay out.
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("blend group = %v, want %v", got, want)
	}
}

func TestResolveLoneBlendScheduleIsOrdinaryWinner(t *testing.T) {
	t.Parallel()
	blended := Resolve([]Schedule{sched("a", 5, false, true)})
	plain := Resolve([]Schedule{sched("a", 5, false, false)})

	if blended.Winner == nil || plain.Winner == nil {
		t.Fatal("both variants should produce a winner")
	}
	if blended.Winner.ID != plain.Winner.ID || len(blended.BlendGroup) != 0 {
		t.Fatal("a lone blend-enabled schedule must behave exactly like winner-take-all")
	}
}

func TestResolveTieBreakChain(t *testing.T) {
	t.Parallel()
	day := func(d int) time.Time { return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC) }
	endOf := func(d int) *time.Time { e := day(d); return &e }

	tests := []struct {
		name string
		in   []Schedule
		want string
	}{
		{
			name: "priority first",
			in: []Schedule{
				{ID: "low", Priority: 4, Start: day(1)},
				{ID: "high", Priority: 7, Start: day(20)},
			},
			want: "high",
		},
		{
			name: "earliest end among equal priority",
			in: []Schedule{
				{ID: "later", Priority: 5, Start: day(1), End: endOf(20)},
				{ID: "sooner", Priority: 5, Start: day(1), End: endOf(10)},
			},
			want: "sooner",
		},
		{
			name: "open end sorts last",
			in: []Schedule{
				{ID: "open", Priority: 5, Start: day(1)},
				{ID: "bounded", Priority: 5, Start: day(1), End: endOf(25)},
			},
			want: "bounded",
		},
		{
			name: "earliest start after end ties",
			in: []Schedule{
				{ID: "late-start", Priority: 5, Start: day(5), End: endOf(20)},
				{ID: "early-start", Priority: 5, Start: day(2), End: endOf(20)},
			},
			want: "early-start",
		},
		{
			name: "lowest id last",
			in: []Schedule{
				{ID: "b", Priority: 5, Start: day(1), End: endOf(20)},
				{ID: "a", Priority: 5, Start: day(1), End: endOf(20)},
			},
			want: "a",
		},
		{
			name: "zero priority defaults to five",
			in: []Schedule{
				{ID: "unset", Start: day(1)},
				{ID: "four", Priority: 4, Start: day(1)},
			},
			want: "unset",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			out := Resolve(tt.in)
			if out.Winner == nil || out.Winner.ID != tt.want {
				t.Fatalf("winner = %+v, want %s", out.Winner, tt.want)
			}
		})
	}
}

func TestResolveOrderIndependent(t *testing.T) {
	t.Parallel()
	in := []Schedule{
		sched("a", 5, false, true),
		sched("b", 7, false, true),
		sched("c", 9, false, false),
		sched("d", 2, true, false),
		sched("e", 4, true, true),
	}
	base := Resolve(in)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		perm := append([]Schedule(nil), in...)
		rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		got := Resolve(perm)
		if !reflect.DeepEqual(got, base) {
			t.Fatalf("permutation %d changed the outcome: %+v vs %+v", i, got, base)
		}
	}
}

func TestResolveEmptyInput(t *testing.T) {
	t.Parallel()
	out := Resolve(nil)
	if out.Winner != nil || out.BlendGroup != nil {
		t.Fatalf("empty active set must produce an empty outcome, got %+v", out)
	}
	if out.Leader() != nil {
		t.Fatal("empty outcome has no leader")
	}
}

func TestOutcomeLeader(t *testing.T) {
	t.Parallel()
	out := Resolve([]Schedule{
		sched("a", 3, false, true),
		sched("b", 8, false, true),
	})
	if lead := out.Leader(); lead == nil || lead.ID != "b" {
		t.Fatalf("blend leader = %+v, want the highest-precedence member", lead)
	}
}
