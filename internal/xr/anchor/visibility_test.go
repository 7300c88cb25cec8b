package anchor

import (
	"testing"

	"github.com/banshee-data/xrsession/internal/scene"
)

func TestVisibilityTracker_Edges(t *testing.T) {
	var found, lost []int
	i := 0
	v := NewVisibilityTracker(scene.NewGroup("marker"),
		func() { found = append(found, i) },
		func() { lost = append(lost, i) },
	)

	seq := []bool{false, false, true, true, false}
	want := []Edge{EdgeNone, EdgeNone, EdgeFound, EdgeNone, EdgeLost}
	for i = range seq {
		if got := v.Observe(seq[i]); got != want[i] {
			t.Errorf("sample %d: edge = %s, want %s", i, got, want[i])
		}
	}

	if len(found) != 1 || found[0] != 2 {
		t.Errorf("OnFound fired at %v, want [2]", found)
	}
	if len(lost) != 1 || lost[0] != 4 {
		t.Errorf("OnLost fired at %v, want [4]", lost)
	}
}

func TestVisibilityTracker_HiddenUntilInitialized(t *testing.T) {
	node := scene.NewGroup("marker")
	if !node.Visible() {
		t.Fatal("groups start visible")
	}

	fired := false
	v := NewVisibilityTracker(node, func() { fired = true }, nil)
	if node.Visible() {
		t.Fatal("tracked node must start hidden")
	}

	// Something flips it on before the tracker owns the transform.
	node.SetVisible(true)
	if edge := v.Sample(); edge != EdgeNone {
		t.Errorf("Sample before init = %s, want none", edge)
	}
	if node.Visible() || fired {
		t.Error("uninitialized node must stay hidden and silent")
	}

	v.SetInitialized()
	node.SetVisible(true)
	if edge := v.Sample(); edge != EdgeFound || !fired {
		t.Errorf("Sample after init = %s (fired=%v), want found", edge, fired)
	}
	node.SetVisible(false)
	if edge := v.Sample(); edge != EdgeLost {
		t.Errorf("Sample = %s, want lost", edge)
	}
}

func TestVisibilityTracker_CallbackPanicContained(t *testing.T) {
	v := NewVisibilityTracker(scene.NewGroup("m"), func() { panic("app bug") }, nil)
	if edge := v.Observe(true); edge != EdgeFound {
		t.Errorf("edge = %s", edge)
	}
	if !v.Visible() {
		t.Error("state must advance even if the callback panics")
	}
}
