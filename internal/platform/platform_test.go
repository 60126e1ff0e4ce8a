package platform_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform/platformtest"
)

func TestAllowedMentions(t *testing.T) {
	silent := platform.AllowedMentions(&platform.Message{Content: "<@&1> @everyone"})
	if len(silent.Parse) != 0 || len(silent.Roles) != 0 || len(silent.Users) != 0 {
		t.Errorf("plain message allows %+v", silent)
	}

	ping := platform.AllowedMentions(&platform.Message{Content: "<@&1> <@2>", MentionRoles: []string{"1"}, MentionUsers: []string{"2"}})
	if len(ping.Parse) != 0 || len(ping.Roles) != 1 || ping.Roles[0] != "1" || len(ping.Users) != 1 || ping.Users[0] != "2" {
		t.Errorf("allowed = %+v", ping)
	}
}

func TestEnsureChannel_ReusesByName(t *testing.T) {
	p := platformtest.New()
	g := p.AddGuild()
	ctx := context.Background()

	spec := platform.ChannelSpec{Name: "factions-hub", Kind: platform.KindCategory}
	first, err := platform.EnsureChannel(ctx, p, g, spec)
	if err != nil {
		t.Fatal(err)
	}
	second, err := platform.EnsureChannel(ctx, p, g, platform.ChannelSpec{Name: "Factions-Hub", Kind: platform.KindCategory})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("EnsureChannel created a duplicate: %s vs %s", first.ID, second.ID)
	}
	if p.Calls("CreateChannel") != 1 {
		t.Fatalf("CreateChannel called %d times", p.Calls("CreateChannel"))
	}
}

func TestFindChannel_KindMatters(t *testing.T) {
	p := platformtest.New()
	g := p.AddGuild()
	p.AddChannel(g, "faction-logs", "")

	if _, err := platform.FindChannel(context.Background(), p, g, "faction-logs", platform.KindCategory); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for category lookup, got %v", err)
	}
	if _, err := platform.FindChannel(context.Background(), p, g, "faction-logs", platform.KindText); err != nil {
		t.Fatalf("text lookup: %v", err)
	}
}

func TestValidID(t *testing.T) {
	p := platformtest.New()
	if !platform.ValidID(p.NewID()) {
		t.Error("generated snowflake rejected")
	}
	for _, bad := range []string{"", "abc", "-5", "0"} {
		if platform.ValidID(bad) {
			t.Errorf("ValidID(%q) = true", bad)
		}
	}
}

func TestMentions(t *testing.T) {
	if got := platform.RoleMention("42"); got != "<@&42>" {
		t.Errorf("RoleMention = %s", got)
	}
	if got := platform.UserMention("42"); got != "<@42>" {
		t.Errorf("UserMention = %s", got)
	}
	if got := platform.ChannelMention("42"); got != "<#42>" {
		t.Errorf("ChannelMention = %s", got)
	}
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   int
		want   error
	}{
		{"unknown message", http.StatusNotFound, discordgo.ErrCodeUnknownMessage, platform.ErrNotFound},
		{"missing permissions", http.StatusForbidden, discordgo.ErrCodeMissingPermissions, platform.ErrForbidden},
		{"bare 404", http.StatusNotFound, 0, platform.ErrNotFound},
		{"rate limited", http.StatusTooManyRequests, 0, platform.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			restErr := &discordgo.RESTError{
				Response: &http.Response{StatusCode: tc.status},
				Message:  &discordgo.APIErrorMessage{Code: tc.code},
			}
			if got := platform.MapErr(restErr); !errors.Is(got, tc.want) {
				t.Fatalf("MapErr = %v, want %v", got, tc.want)
			}
		})
	}

	plain := errors.New("boom")
	if got := platform.MapErr(plain); got != plain {
		t.Fatalf("non-REST error changed: %v", got)
	}
}
