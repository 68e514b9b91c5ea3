package model

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestNotificationTicketReferenceForms(t *testing.T) {
	var bare Notification
	if err := json.Unmarshal([]byte(`{"id":"n1","title":"hi","ticket":"t1","read":true}`), &bare); err != nil {
		t.Fatal(err)
	}
	if bare.ID != "n1" || bare.TicketID() != "t1" || bare.Ticket.Embedded() || !bare.Read {
		t.Errorf("bare = %+v", bare)
	}

	var embedded Notification
	raw := `{"_id":"n2","title":"assigned","ticket":{"_id":"t2","title":"VPN","createdBy":"u1","__v":4}}`
	if err := json.Unmarshal([]byte(raw), &embedded); err != nil {
		t.Fatal(err)
	}
	if !embedded.Ticket.Embedded() || embedded.TicketID() != "t2" {
		t.Fatalf("embedded = %+v", embedded.Ticket)
	}
	tk := embedded.Ticket.Ticket
	if tk.Version != 4 || tk.CreatorID() != "u1" {
		t.Errorf("embedded ticket = %+v", tk)
	}

	var none Notification
	if err := json.Unmarshal([]byte(`{"_id":"n3","ticket":null}`), &none); err != nil {
		t.Fatal(err)
	}
	if none.TicketID() != "" {
		t.Errorf("null ticket = %+v", none.Ticket)
	}
}

func TestTicketNewer(t *testing.T) {
	now := time.Now()
	a := Ticket{Version: 2, UpdatedAt: now.Add(-time.Hour)}
	b := Ticket{Version: 1, UpdatedAt: now}
	if !a.Newer(&b) || b.Newer(&a) {
		t.Error("version must win over timestamp")
	}
	c := Ticket{Version: 2, UpdatedAt: now}
	if !c.Newer(&a) || a.Newer(&a) {
		t.Error("UpdatedAt breaks version ties, equal is not newer")
	}
}

func TestTicketCloneIsDeep(t *testing.T) {
	orig := Ticket{ID: "t1", AssignedTo: &UserRef{ID: "u1"}, Comments: []Comment{{Text: "a"}}}
	c := orig.Clone()
	c.AssignedTo.ID = "u2"
	c.Comments[0].Text = "b"
	if orig.AssigneeID() != "u1" || orig.Comments[0].Text != "a" {
		t.Errorf("clone shares state: %+v", orig)
	}
}

func TestRoles(t *testing.T) {
	if !RoleEmployee.CanRaiseTickets() || !RoleDeveloper.CanRaiseTickets() || RoleAdmin.CanRaiseTickets() {
		t.Error("CanRaiseTickets")
	}
	if !RoleAdmin.IsAdmin() || RoleEmployee.IsAdmin() {
		t.Error("IsAdmin")
	}
	s := Session{Token: "tok", User: &User{ID: "u1"}}
	if !s.Active() || (Session{Token: "tok"}).Active() {
		t.Error("Active")
	}
}
