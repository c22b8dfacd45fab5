package game

import "sort"

// UserStat статистика игрока
type UserStat struct {
	Played        int                  `json:"played"`
	WinPercentage float64              `json:"winPercentage"`
	AvgAttempts   float64              `json:"avgAttempts"`
	LastStreak    int                  `json:"lastStreak"`
	BestStreak    int                  `json:"bestStreak"`
	Distribution  [MaxAttempts]float64 `json:"distribution"`
}

// RankEntry позиция в рейтинге
type RankEntry struct {
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

func (u *User) stats() UserStat {
	st := UserStat{LastStreak: u.LastStreak, BestStreak: u.BestStreak}

	var wins, winAttempts int
	var buckets [MaxAttempts]int
	for _, r := range u.Rounds {
		if !r.Finished {
			continue
		}
		st.Played++
		if !r.Won {
			continue
		}
		wins++
		winAttempts += r.Attempts
		if r.Attempts >= 1 && r.Attempts <= MaxAttempts {
			buckets[r.Attempts-1]++
		}
	}

	if st.Played > 0 {
		st.WinPercentage = float64(wins) * 100 / float64(st.Played)
	}
	if wins > 0 {
		st.AvgAttempts = float64(winAttempts) / float64(wins)
		for i, n := range buckets {
			st.Distribution[i] = float64(n) * 100 / float64(wins)
		}
	}
	return st
}

// score = выигранные раунды * среднее число попыток в них
func (u *User) score() float64 {
	st := u.stats()
	wins := 0
	for _, r := range u.Rounds {
		if r.Finished && r.Won {
			wins++
		}
	}
	return float64(wins) * st.AvgAttempts
}

// Stats статистика пользователя
func (s *Store) Stats(username string) (UserStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok {
		return UserStat{}, ErrInvalidUsername
	}
	return u.stats(), nil
}

// Rank полный пересчёт рейтинга по всем пользователям
func (s *Store) Rank() []RankEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankLocked()
}

// RankIfTopChanged пересчитывает рейтинг и сообщает, изменился ли
// порядок первых трёх мест с прошлого вызова.
func (s *Store) RankIfTopChanged() ([]RankEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rank := s.rankLocked()
	top := topNames(rank, 3)
	if equalNames(top, s.lastTop) {
		return rank, false
	}
	s.lastTop = top
	return rank, true
}

func (s *Store) rankLocked() []RankEntry {
	// s.order уже упорядочен по регистрации, стабильная сортировка сохраняет его при равенстве
	rank := make([]RankEntry, 0, len(s.order))
	for _, u := range s.order {
		rank = append(rank, RankEntry{Username: u.Username, Score: u.score()})
	}
	sort.SliceStable(rank, func(i, j int) bool {
		return rank[i].Score > rank[j].Score
	})
	return rank
}

func topNames(rank []RankEntry, n int) []string {
	if len(rank) < n {
		n = len(rank)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = rank[i].Username
	}
	return names
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortBySeq(users []*User) {
	sort.SliceStable(users, func(i, j int) bool {
		return users[i].Seq < users[j].Seq
	})
}
