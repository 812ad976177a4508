package ably

import (
	"sort"
	"sync"

	"github.com/Thejuampi/ably-client-go/ably/protocol"
)

// PresenceMap holds the members of a channel keyed by connectionId:clientId.
// Outside a sync an entry is replaced only by a message with a newer serial.
// During a sync, members not seen before the sync ends are evicted with a
// synthesized LEAVE.
type PresenceMap struct {
	lock    sync.Mutex
	members map[string]*protocol.PresenceMessage
	// absent holds the LEAVE of departed members so an older upsert
	// arriving late cannot bring them back. Dropped at EndSync and Clear.
	absent   map[string]*protocol.PresenceMessage
	announce func(message *protocol.PresenceMessage)

	syncInProgress    bool
	currentSyncSerial string
	priorMembers      map[string]struct{}
	syncComplete      bool
	stale             bool
	syncDone          chan struct{}
	syncDoneClosed    bool
}

// NewPresenceMap returns an empty map. announce receives every membership
// change; it must not call back into the map.
func NewPresenceMap(announce func(message *protocol.PresenceMessage)) *PresenceMap {
	return &PresenceMap{
		members:  make(map[string]*protocol.PresenceMessage),
		absent:   make(map[string]*protocol.PresenceMessage),
		announce: announce,
		syncDone: make(chan struct{}),
	}
}

// Put applies message. LEAVE removes the member and is always announced;
// other actions upsert only when the serial is newer than both the stored
// member and a recorded departure. It reports whether the map changed or an
// event was announced.
func (presenceMap *PresenceMap) Put(message *protocol.PresenceMessage) bool {
	if presenceMap == nil || message == nil {
		return false
	}
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()

	key := message.MemberKey()
	if presenceMap.syncInProgress {
		delete(presenceMap.priorMembers, key)
	}

	if message.Action == protocol.PresenceLeave || message.Action == protocol.PresenceAbsent {
		delete(presenceMap.members, key)
		leave := message.Clone()
		leave.Action = protocol.PresenceLeave
		if leave.Serial != 0 && leave.IsNewerThan(presenceMap.absent[key]) {
			presenceMap.absent[key] = leave.Clone()
		}
		presenceMap.emit(leave)
		return true
	}

	existing, ok := presenceMap.members[key]
	if !ok {
		existing = presenceMap.absent[key]
	}
	if !message.IsNewerThan(existing) {
		return false
	}
	delete(presenceMap.absent, key)
	stored := message.Clone()
	stored.Action = protocol.PresencePresent
	presenceMap.members[key] = stored
	presenceMap.emit(message.Clone())
	return true
}

// StartSync begins a sync. Members present now are evicted at EndSync
// unless a sync message mentions them. A sync already in progress is
// restarted from the current members.
func (presenceMap *PresenceMap) StartSync() {
	if presenceMap == nil {
		return
	}
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	presenceMap.syncInProgress = true
	presenceMap.currentSyncSerial = ""
	presenceMap.syncComplete = false
	presenceMap.priorMembers = make(map[string]struct{}, len(presenceMap.members))
	for key := range presenceMap.members {
		presenceMap.priorMembers[key] = struct{}{}
	}
	if presenceMap.syncDoneClosed {
		presenceMap.syncDone = make(chan struct{})
		presenceMap.syncDoneClosed = false
	}
}

// EndSync evicts members that were not re-confirmed and marks the map
// complete.
func (presenceMap *PresenceMap) EndSync() {
	if presenceMap == nil {
		return
	}
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	if !presenceMap.syncInProgress {
		return
	}

	evicted := make([]string, 0, len(presenceMap.priorMembers))
	for key := range presenceMap.priorMembers {
		evicted = append(evicted, key)
	}
	sort.Strings(evicted)
	for _, key := range evicted {
		member, ok := presenceMap.members[key]
		if !ok {
			continue
		}
		delete(presenceMap.members, key)
		leave := member.Clone()
		leave.Action = protocol.PresenceLeave
		presenceMap.emit(leave)
	}

	presenceMap.absent = make(map[string]*protocol.PresenceMessage)
	presenceMap.priorMembers = nil
	presenceMap.syncInProgress = false
	presenceMap.currentSyncSerial = ""
	presenceMap.syncComplete = true
	presenceMap.stale = false
	presenceMap.closeSyncDone()
}

// Clear drops every member without announcing and abandons any sync.
func (presenceMap *PresenceMap) Clear() {
	if presenceMap == nil {
		return
	}
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	presenceMap.members = make(map[string]*protocol.PresenceMessage)
	presenceMap.absent = make(map[string]*protocol.PresenceMessage)
	presenceMap.priorMembers = nil
	presenceMap.syncInProgress = false
	presenceMap.currentSyncSerial = ""
	presenceMap.syncComplete = false
	presenceMap.stale = false
	presenceMap.closeSyncDone()
	presenceMap.syncDone = make(chan struct{})
	presenceMap.syncDoneClosed = false
}

// MarkStale flags the members as unconfirmed until the next sync completes.
func (presenceMap *PresenceMap) MarkStale() {
	if presenceMap == nil {
		return
	}
	presenceMap.lock.Lock()
	presenceMap.stale = true
	presenceMap.syncComplete = false
	if presenceMap.syncDoneClosed {
		presenceMap.syncDone = make(chan struct{})
		presenceMap.syncDoneClosed = false
	}
	presenceMap.lock.Unlock()
}

// Stale reports whether the members await re-confirmation.
func (presenceMap *PresenceMap) Stale() bool {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	return presenceMap.stale
}

// SyncInProgress reports whether a sync is running.
func (presenceMap *PresenceMap) SyncInProgress() bool {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	return presenceMap.syncInProgress
}

// SyncComplete reports whether a sync has finished since the map was last
// cleared or marked stale.
func (presenceMap *PresenceMap) SyncComplete() bool {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	return presenceMap.syncComplete
}

// SyncDone is closed when the running or next sync completes, or when the
// map is cleared.
func (presenceMap *PresenceMap) SyncDone() <-chan struct{} {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	return presenceMap.syncDone
}

// SetSyncSerial records the continuation token of the latest sync page.
func (presenceMap *PresenceMap) SetSyncSerial(channelSerial string) {
	presenceMap.lock.Lock()
	presenceMap.currentSyncSerial = channelSerial
	presenceMap.lock.Unlock()
}

// SyncSerial returns the continuation token of the latest sync page.
func (presenceMap *PresenceMap) SyncSerial() string {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	return presenceMap.currentSyncSerial
}

// Get returns the member stored under key.
func (presenceMap *PresenceMap) Get(key string) (*protocol.PresenceMessage, bool) {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	member, ok := presenceMap.members[key]
	return member.Clone(), ok
}

// Members returns copies of every member ordered by member key.
func (presenceMap *PresenceMap) Members() []*protocol.PresenceMessage {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	keys := make([]string, 0, len(presenceMap.members))
	for key := range presenceMap.members {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	members := make([]*protocol.PresenceMessage, 0, len(keys))
	for _, key := range keys {
		members = append(members, presenceMap.members[key].Clone())
	}
	return members
}

// Len returns the number of members.
func (presenceMap *PresenceMap) Len() int {
	presenceMap.lock.Lock()
	defer presenceMap.lock.Unlock()
	return len(presenceMap.members)
}

func (presenceMap *PresenceMap) emit(message *protocol.PresenceMessage) {
	if presenceMap.announce != nil {
		presenceMap.announce(message)
	}
}

func (presenceMap *PresenceMap) closeSyncDone() {
	if !presenceMap.syncDoneClosed {
		close(presenceMap.syncDone)
		presenceMap.syncDoneClosed = true
	}
}
