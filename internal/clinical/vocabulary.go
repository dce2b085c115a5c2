package clinical

var defaultSymptoms = []string{
	"fever", "pain", "headache", "nausea", "vomiting", "dizziness",
	"fatigue", "weakness", "shortness of breath", "chest pain",
	"abdominal pain", "back pain", "cough", "sore throat",
	"diarrhea", "constipation", "rash", "swelling", "bleeding",
}

var defaultMedications = []string{
	"aspirin", "ibuprofen", "acetaminophen", "paracetamol",
	"amoxicillin", "penicillin", "metformin", "insulin",
	"lisinopril", "atorvastatin", "omeprazole", "warfarin",
}

var defaultProcedures = []string{
	"x-ray", "CT scan", "MRI", "ultrasound", "blood test",
	"biopsy", "surgery", "ECG", "EKG", "echocardiogram",
}

var labValuePatterns = []string{
	`\d+/\d+\s*mmHg`,
	`\d+\.?\d*\s*°?[FC]`,
	`\d+\.?\d*\s*(?:mg/dL|mmol/L|g/dL|%|bpm|kg|lbs)`,
}

type Vocabulary struct {
	Symptoms    []string
	Medications []string
	Procedures  []string
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Symptoms:    defaultSymptoms,
		Medications: defaultMedications,
		Procedures:  defaultProcedures,
	}
}
