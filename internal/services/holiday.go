package services

import (
	"strings"
	"time"

	"github.com/6tail/lunar-go/HolidayUtil"
	"github.com/6tail/lunar-go/calendar"
	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/au"
	"github.com/rickar/cal/v2/ca"
	"github.com/rickar/cal/v2/de"
	"github.com/rickar/cal/v2/fr"
	"github.com/rickar/cal/v2/gb"
	"github.com/rickar/cal/v2/jp"
	"github.com/rickar/cal/v2/nz"
	"github.com/rickar/cal/v2/us"
)

// HolidayService decides whether the reminder job runs on a given day.
type HolidayService struct {
	calendars map[string]*cal.BusinessCalendar
}

func NewHolidayService() *HolidayService {
	s := &HolidayService{
		calendars: make(map[string]*cal.BusinessCalendar),
	}
	s.initCalendars()
	return s
}

func (s *HolidayService) initCalendars() {
	s.calendars["KR"] = s.createCalendar("South Korea", koreanHolidays()...)
	s.calendars["US"] = s.createCalendar("United States", us.Holidays...)
	s.calendars["GB"] = s.createCalendar("United Kingdom", gb.Holidays...)
	s.calendars["DE"] = s.createCalendar("Germany", de.Holidays...)
	s.calendars["FR"] = s.createCalendar("France", fr.Holidays...)
	s.calendars["JP"] = s.createCalendar("Japan", jp.Holidays...)
	s.calendars["AU"] = s.createCalendar("Australia", au.HolidaysNSW...)
	s.calendars["CA"] = s.createCalendar("Canada", ca.Holidays...)
	s.calendars["NZ"] = s.createCalendar("New Zealand", nz.Holidays...)
}

func (s *HolidayService) createCalendar(name string, holidays ...*cal.Holiday) *cal.BusinessCalendar {
	c := cal.NewBusinessCalendar()
	c.Name = name
	c.AddHoliday(holidays...)
	return c
}

// IsWorkday reports whether t is a working day in countryCode. "NONE" and
// unknown codes only skip weekends.
func (s *HolidayService) IsWorkday(t time.Time, countryCode string) bool {
	countryCode = strings.ToUpper(countryCode)
	if countryCode == "CN" {
		return s.isWorkdayChina(t)
	}

	c, ok := s.calendars[countryCode]
	if !ok {
		return !cal.IsWeekend(t)
	}
	return c.IsWorkday(t)
}

func (s *HolidayService) isWorkdayChina(t time.Time) bool {
	solar := calendar.NewSolarFromDate(t)
	holiday := HolidayUtil.GetHolidayByYmd(solar.GetYear(), solar.GetMonth(), solar.GetDay())

	if holiday != nil {
		return holiday.IsWork()
	}

	weekday := t.Weekday()
	return weekday != time.Saturday && weekday != time.Sunday
}

// Supports reports whether countryCode has a holiday calendar.
func (s *HolidayService) Supports(countryCode string) bool {
	countryCode = strings.ToUpper(countryCode)
	if countryCode == "CN" || countryCode == "NONE" {
		return true
	}
	_, ok := s.calendars[countryCode]
	return ok
}

// koreanHolidays lists the statutory public holidays. Seollal, Buddha's Birthday
// and Chuseok follow the lunar calendar.
func koreanHolidays() []*cal.Holiday {
	fixed := func(name string, month time.Month, day int) *cal.Holiday {
		return &cal.Holiday{Name: name, Type: cal.ObservancePublic, Month: month, Day: day, Func: cal.CalcDayOfMonth}
	}
	return []*cal.Holiday{
		fixed("신정", time.January, 1),
		fixed("삼일절", time.March, 1),
		fixed("어린이날", time.May, 5),
		fixed("현충일", time.June, 6),
		fixed("광복절", time.August, 15),
		fixed("개천절", time.October, 3),
		fixed("한글날", time.October, 9),
		fixed("성탄절", time.December, 25),
		lunarHoliday("설날 연휴", 1, 1, -1),
		lunarHoliday("설날", 1, 1, 0),
		lunarHoliday("설날 연휴", 1, 1, 1),
		lunarHoliday("부처님오신날", 4, 8, 0),
		lunarHoliday("추석 연휴", 8, 15, -1),
		lunarHoliday("추석", 8, 15, 0),
		lunarHoliday("추석 연휴", 8, 15, 1),
	}
}

// lunarHoliday is lunar month/day of the given year, shifted by offset days.
func lunarHoliday(name string, month, day, offset int) *cal.Holiday {
	return &cal.Holiday{
		Name: name,
		Type: cal.ObservancePublic,
		Func: func(h *cal.Holiday, year int) time.Time {
			solar := calendar.NewLunarFromYmd(year, month, day).GetSolar()
			d := time.Date(solar.GetYear(), time.Month(solar.GetMonth()), solar.GetDay(), 0, 0, 0, 0, time.UTC)
			return d.AddDate(0, 0, offset)
		},
	}
}
