package seeders

import (
	"faltas_go/database"
	"faltas_go/models"
	"log"

	"gorm.io/gorm"
)

// SeedAll fills empty reference tables with development data
func SeedAll() {
	SeedAllWith(database.DB)
}

// SeedAllWith runs every seeder against db
func SeedAllWith(db *gorm.DB) {
	log.Println("Starting database seeding...")

	departments := SeedDepartments(db)
	SeedTeachers(db, departments)
	SeedSubstitutes(db)

	log.Println("Database seeding completed successfully!")
}

func isEmpty(db *gorm.DB, model interface{}, table string) bool {
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		log.Printf("Error counting %s: %v", table, err)
		return false
	}
	if count > 0 {
		log.Printf("%s already seeded, skipping...", table)
		return false
	}
	return true
}

// SeedDepartments seeds the departments table and returns them keyed by disciplina code
func SeedDepartments(db *gorm.DB) map[string]models.Department {
	out := map[string]models.Department{}
	if !isEmpty(db, &models.Department{}, "Departments") {
		var existing []models.Department
		db.Find(&existing)
		for _, d := range existing {
			out[d.DisciplinaID] = d
		}
		return out
	}

	departments := []models.Department{
		{Name: "Matemática", DisciplinaID: "MAT"},
		{Name: "Língua Portuguesa", DisciplinaID: "POR"},
		{Name: "História", DisciplinaID: "HIS"},
		{Name: "Ciências", DisciplinaID: "CIE"},
		{Name: "Educação Física", DisciplinaID: "EDF"},
	}

	for i := range departments {
		if err := db.Create(&departments[i]).Error; err != nil {
			log.Printf("Error seeding department %s: %v", departments[i].DisciplinaID, err)
			continue
		}
		out[departments[i].DisciplinaID] = departments[i]
	}

	log.Println("Departments seeded successfully")
	return out
}

// SeedTeachers seeds a handful of teachers spread over two units
func SeedTeachers(db *gorm.DB, departments map[string]models.Department) {
	if !isEmpty(db, &models.Teacher{}, "Teachers") {
		return
	}

	yes, no := true, false
	teachers := []struct {
		teacher    models.Teacher
		disciplina string
	}{
		{models.Teacher{Name: "Ana Paula Souza", Email: "ana.souza@escola.edu.br", Unit: "Unidade Centro", ContractType: "Efetivo", Course: "Ensino Médio", TeachingPeriod: "Manhã", Regencia: &yes}, "MAT"},
		{models.Teacher{Name: "Carlos Henrique Lima", Email: "carlos.lima@escola.edu.br", Unit: "Unidade Centro", ContractType: "CLT", Course: "Ensino Fundamental", TeachingPeriod: "Tarde", Regencia: &no}, "POR"},
		{models.Teacher{Name: "Fernanda Ribeiro", Email: "fernanda.ribeiro@escola.edu.br", Unit: "Unidade Norte", ContractType: "Efetivo", Course: "Ensino Médio", TeachingPeriod: "Noite", Regencia: &yes}, "HIS"},
		{models.Teacher{Name: "João Pedro Alves", Email: "joao.alves@escola.edu.br", Unit: "Unidade Norte", ContractType: "Contratado", Course: "Ensino Fundamental", TeachingPeriod: "Manhã"}, "CIE"},
	}

	for _, t := range teachers {
		teacher := t.teacher
		if d, ok := departments[t.disciplina]; ok {
			teacher.DepartmentID = d.ID
		}
		if err := db.Omit("Department").Create(&teacher).Error; err != nil {
			log.Printf("Error seeding teacher %s: %v", teacher.Name, err)
		}
	}

	log.Println("Teachers seeded successfully")
}

// SeedSubstitutes seeds the tutor roster of each unit
func SeedSubstitutes(db *gorm.DB) {
	if !isEmpty(db, &models.Substitute{}, "Substitutes") {
		return
	}

	substitutes := []models.Substitute{
		{Name: "Beatriz Martins", Unit: "Unidade Centro", Active: true},
		{Name: "Rafael Costa", Unit: "Unidade Centro", Active: true},
		{Name: "Luciana Ferreira", Unit: "Unidade Norte", Active: true},
	}

	for i := range substitutes {
		if err := db.Create(&substitutes[i]).Error; err != nil {
			log.Printf("Error seeding substitute %s: %v", substitutes[i].Name, err)
		}
	}

	log.Println("Substitutes seeded successfully")
}
