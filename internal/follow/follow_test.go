// internal/follow/follow_test.go
package follow

import "testing"

func TestLiveStaysPinnedToNewest(t *testing.T) {
	c := New()
	if c.Mode() != Live {
		t.Fatal("controller should start live")
	}
	for i := 0; i < 5; i++ {
		c.ArtifactArrived()
	}
	if c.Index() != 0 {
		t.Errorf("live mode should pin index 0, got %d", c.Index())
	}
	if c.Mode() != Live {
		t.Error("arrivals should not change mode")
	}
}

func TestManualNavigationDisengages(t *testing.T) {
	c := New()
	c.Navigate(2)
	if c.Mode() != Browsing {
		t.Fatal("navigating away from newest should enter browsing")
	}
	c.ArtifactArrived()
	if c.Index() != 3 {
		t.Errorf("arrival while browsing should shift index to 3, got %d", c.Index())
	}
}

func TestNavigateToNewestKeepsLive(t *testing.T) {
	c := New()
	c.Navigate(0)
	if c.Mode() != Live {
		t.Error("navigating to the newest item should not disengage live mode")
	}
}

func TestGoLiveSnapsToNewest(t *testing.T) {
	c := New()
	c.Navigate(4)
	c.ArtifactArrived()
	c.GoLive()
	if c.Mode() != Live || c.Index() != 0 {
		t.Errorf("go-live should snap to newest, got mode=%s index=%d", c.Mode(), c.Index())
	}
}

func TestNavigateClampsNegative(t *testing.T) {
	c := New()
	c.Navigate(-3)
	if c.Index() != 0 {
		t.Errorf("negative index should clamp to 0, got %d", c.Index())
	}
}
